package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config carries the lifecycle timings and betting limits. Tests shrink
// the durations; production values come from the environment.
type Config struct {
	BettingWindow time.Duration // WAITING phase length
	WaitTick      time.Duration // countdown broadcast cadence
	FlightTick    time.Duration // multiplier broadcast cadence
	CrashPause    time.Duration // idle gap after a crash
	RetryBackoff  time.Duration // wait between round persist attempts
	HouseEdge     float64
	MinBet        float64
	MaxBet        float64
}

func DefaultConfig() Config {
	return Config{
		BettingWindow: time.Duration(getEnvAsInt("CRASH_BETTING_SECONDS", 5)) * time.Second,
		WaitTick:      1 * time.Second,
		FlightTick:    100 * time.Millisecond,
		CrashPause:    time.Duration(getEnvAsInt("CRASH_PAUSE_SECONDS", 3)) * time.Second,
		RetryBackoff:  1 * time.Second,
		HouseEdge:     getEnvAsFloat("CRASH_HOUSE_EDGE", DEFAULT_HOUSE_EDGE),
		MinBet:        getEnvAsFloat("CRASH_MIN_BET", 1.0),
		MaxBet:        getEnvAsFloat("CRASH_MAX_BET", 10000.0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
