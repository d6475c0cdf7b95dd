package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Sync tuning knobs (poll interval, tolerance, cooldown) have defaults that
// match the reference deployment; everything is overridable via environment.
type Config struct {
	ServerAddr string

	// 同步调优参数
	PollInterval      time.Duration // 主播放状态轮询间隔
	DeviceToleranceMs int64         // 直控设备的漂移容差
	DeviceCooldownMs  int64         // 直控设备的纠偏冷却
	VideoToleranceMs  int64         // 视频替代面的漂移容差
	VideoCooldownMs   int64         // 视频替代面的纠偏冷却
	AutoplayRetryMs   int64         // 自动播放被拦截后的重试窗口

	// Spotify 配置
	SpotifyAPIBase      string
	SpotifyAccountsBase string
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyHostRefresh  string // 主账号 refresh token（可被数据库中的记录覆盖）

	// 内容解析配置
	ResolverEndpoint  string
	ResolverAPIKey    string
	ResolverCacheSize int
	ResolverCacheTTL  time.Duration

	// JWT 配置
	JWTSecret string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// 日志配置
	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		PollInterval:      time.Duration(getEnvInt64("POLL_INTERVAL_MS", 4000)) * time.Millisecond,
		DeviceToleranceMs: getEnvInt64("DEVICE_TOLERANCE_MS", 4000),
		DeviceCooldownMs:  getEnvInt64("DEVICE_COOLDOWN_MS", 8000),
		VideoToleranceMs:  getEnvInt64("VIDEO_TOLERANCE_MS", 8000),
		VideoCooldownMs:   getEnvInt64("VIDEO_COOLDOWN_MS", 12000),
		AutoplayRetryMs:   getEnvInt64("AUTOPLAY_RETRY_MS", 400),

		SpotifyAPIBase:      getEnv("SPOTIFY_API_BASE", "https://api.spotify.com/v1"),
		SpotifyAccountsBase: getEnv("SPOTIFY_ACCOUNTS_BASE", "https://accounts.spotify.com"),
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyHostRefresh:  os.Getenv("SPOTIFY_HOST_REFRESH_TOKEN"),

		ResolverEndpoint:  getEnv("RESOLVER_ENDPOINT", "https://www.googleapis.com/youtube/v3/search"),
		ResolverAPIKey:    os.Getenv("RESOLVER_API_KEY"),
		ResolverCacheSize: getEnvInt("RESOLVER_CACHE_SIZE", 256),
		ResolverCacheTTL:  time.Duration(getEnvInt("RESOLVER_CACHE_TTL_HOURS", 24)) * time.Hour,

		JWTSecret: getEnv("JWT_SECRET", "mirrorfm-dev-secret"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "mirrorfm"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "mirrorfm"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
