package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Provider struct {
		APIURL   string `yaml:"apiUrl"`
		APIKey   string `yaml:"apiKey"`
		Model    string `yaml:"model"`
		BatchCap int    `yaml:"batchCap"`
		CacheTTL string `yaml:"cacheTtl"`
	} `yaml:"provider"`
	Game struct {
		QuestionsPerSession int    `yaml:"questionsPerSession"`
		DefaultBatchSize    int    `yaml:"defaultBatchSize"`
		MaxResumeIdle       string `yaml:"maxResumeIdle"`
		IdleTimeout         string `yaml:"idleTimeout"`
		SweepInterval       string `yaml:"sweepInterval"`
		RatePerMinute       int    `yaml:"ratePerMinute"`
	} `yaml:"game"`
	Scoring struct {
		PointsPerCorrect int `yaml:"pointsPerCorrect"`
		BonusEvery       int `yaml:"bonusEvery"`
		BonusPoints      int `yaml:"bonusPoints"`
	} `yaml:"scoring"`
	AntiCheat struct {
		MinAverageResponseMs int64   `yaml:"minAverageResponseMs"`
		FastPerfectAvgMs     int64   `yaml:"fastPerfectAvgMs"`
		MaxPerMinute         float64 `yaml:"maxPerMinute"`
		MinAnswersForSignal  int     `yaml:"minAnswersForSignal"`
		SuspicionScore       int     `yaml:"suspicionScore"`
	} `yaml:"antiCheat"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty/invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// ScoreFunc builds the scoring curve from config: a monotonic function of the
// cumulative correct-answer count. Every correct answer is worth
// PointsPerCorrect, with BonusPoints added at each BonusEvery-th correct.
func (c Config) ScoreFunc() func(correct int) int {
	per := c.Scoring.PointsPerCorrect
	if per <= 0 {
		per = 10
	}
	every := c.Scoring.BonusEvery
	bonus := c.Scoring.BonusPoints
	return func(correct int) int {
		if correct <= 0 {
			return 0
		}
		score := correct * per
		if every > 0 && bonus > 0 {
			score += (correct / every) * bonus
		}
		return score
	}
}
