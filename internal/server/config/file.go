package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/gophsync/internal/flagx"
	"github.com/dmitrijs2005/gophsync/internal/timex"
)

type budgetFile struct {
	Hourly int64   `json:"hourly" toml:"hourly"`
	Daily  int64   `json:"daily" toml:"daily"`
	RPS    float64 `json:"rps" toml:"rps"`
	Burst  int     `json:"burst" toml:"burst"`
}

// FileConfig is the on-disk shape. Pointer fields distinguish "absent" from
// zero so that only the keys present override the defaults. Durations accept
// "90s" strings, and integer nanoseconds in JSON.
type FileConfig struct {
	EndpointAddrGRPC *string `json:"endpoint_addr_grpc" toml:"endpoint_addr_grpc"`

	StorageBackend *string `json:"storage_backend" toml:"storage_backend"`
	DatabaseDSN    *string `json:"database_dsn" toml:"database_dsn"`

	SecretKey                   *string         `json:"secret_key" toml:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration" toml:"access_token_validity_duration"`
	TokenPassphrase             *string         `json:"token_passphrase" toml:"token_passphrase"`
	LinkTTL                     *timex.Duration `json:"link_ttl" toml:"link_ttl"`

	CacheBackend       *string         `json:"cache_backend" toml:"cache_backend"`
	RedisAddr          *string         `json:"redis_addr" toml:"redis_addr"`
	RedisPassword      *string         `json:"redis_password" toml:"redis_password"`
	RedisDB            *int            `json:"redis_db" toml:"redis_db"`
	URLCacheTTL        *timex.Duration `json:"url_cache_ttl" toml:"url_cache_ttl"`
	ListingCacheTTL    *timex.Duration `json:"listing_cache_ttl" toml:"listing_cache_ttl"`
	ConnectionCacheTTL *timex.Duration `json:"connection_cache_ttl" toml:"connection_cache_ttl"`
	FolderVerifyTTL    *timex.Duration `json:"folder_verify_ttl" toml:"folder_verify_ttl"`

	GoogleClientID      *string `json:"google_client_id" toml:"google_client_id"`
	GoogleClientSecret  *string `json:"google_client_secret" toml:"google_client_secret"`
	DropboxClientID     *string `json:"dropbox_client_id" toml:"dropbox_client_id"`
	DropboxClientSecret *string `json:"dropbox_client_secret" toml:"dropbox_client_secret"`

	Providers      []string `json:"providers" toml:"providers"`
	RootFolderName *string  `json:"root_folder_name" toml:"root_folder_name"`

	Budgets             map[string]budgetFile `json:"budgets" toml:"budgets"`
	BackoffBase         *timex.Duration       `json:"backoff_base" toml:"backoff_base"`
	BackoffCap          *timex.Duration       `json:"backoff_cap" toml:"backoff_cap"`
	RetryAttempts       *uint64               `json:"retry_attempts" toml:"retry_attempts"`
	RetryBase           *timex.Duration       `json:"retry_base" toml:"retry_base"`
	RetryCap            *timex.Duration       `json:"retry_cap" toml:"retry_cap"`
	ProviderCallTimeout *timex.Duration       `json:"provider_call_timeout" toml:"provider_call_timeout"`
	ProviderConcurrency *int                  `json:"provider_concurrency" toml:"provider_concurrency"`

	ResumableThreshold *int64  `json:"resumable_threshold" toml:"resumable_threshold"`
	ChunkSize          *int64  `json:"chunk_size" toml:"chunk_size"`
	MaxUploadSize      *int64  `json:"max_upload_size" toml:"max_upload_size"`
	SpoolDir           *string `json:"spool_dir" toml:"spool_dir"`

	SyncSchedule        *string         `json:"sync_schedule" toml:"sync_schedule"`
	SyncRunDeadline     *timex.Duration `json:"sync_run_deadline" toml:"sync_run_deadline"`
	SyncWorkers         *int            `json:"sync_workers" toml:"sync_workers"`
	PurgeSchedule       *string         `json:"purge_schedule" toml:"purge_schedule"`
	SoftDeleteRetention *timex.Duration `json:"soft_delete_retention" toml:"soft_delete_retention"`

	S3Bucket       *string `json:"s3_bucket" toml:"s3_bucket"`
	S3Region       *string `json:"s3_region" toml:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	S3AccessKey    *string `json:"s3_access_key" toml:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key" toml:"s3_secret_key"`

	LogLevel  *string `json:"log_level" toml:"log_level"`
	LogFormat *string `json:"log_format" toml:"log_format"`
}

// parseFile overlays the file named by -c/-config, if any. Files ending in
// .toml are decoded as TOML, everything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := &FileConfig{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, fc)
	} else {
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func (fc *FileConfig) apply(c *Config) {
	set(&c.EndpointAddrGRPC, fc.EndpointAddrGRPC)
	set(&c.StorageBackend, fc.StorageBackend)
	set(&c.DatabaseDSN, fc.DatabaseDSN)
	set(&c.SecretKey, fc.SecretKey)
	setDuration(&c.AccessTokenValidityDuration, fc.AccessTokenValidityDuration)
	set(&c.TokenPassphrase, fc.TokenPassphrase)
	setDuration(&c.LinkTTL, fc.LinkTTL)

	set(&c.CacheBackend, fc.CacheBackend)
	set(&c.RedisAddr, fc.RedisAddr)
	set(&c.RedisPassword, fc.RedisPassword)
	set(&c.RedisDB, fc.RedisDB)
	setDuration(&c.URLCacheTTL, fc.URLCacheTTL)
	setDuration(&c.ListingCacheTTL, fc.ListingCacheTTL)
	setDuration(&c.ConnectionCacheTTL, fc.ConnectionCacheTTL)
	setDuration(&c.FolderVerifyTTL, fc.FolderVerifyTTL)

	set(&c.GoogleClientID, fc.GoogleClientID)
	set(&c.GoogleClientSecret, fc.GoogleClientSecret)
	set(&c.DropboxClientID, fc.DropboxClientID)
	set(&c.DropboxClientSecret, fc.DropboxClientSecret)

	if fc.Providers != nil {
		c.Providers = fc.Providers
	}
	set(&c.RootFolderName, fc.RootFolderName)

	for kind, b := range fc.Budgets {
		if c.Budgets == nil {
			c.Budgets = map[string]Budget{}
		}
		c.Budgets[kind] = Budget{Hourly: b.Hourly, Daily: b.Daily, RPS: b.RPS, Burst: b.Burst}
	}
	setDuration(&c.BackoffBase, fc.BackoffBase)
	setDuration(&c.BackoffCap, fc.BackoffCap)
	set(&c.RetryAttempts, fc.RetryAttempts)
	setDuration(&c.RetryBase, fc.RetryBase)
	setDuration(&c.RetryCap, fc.RetryCap)
	setDuration(&c.ProviderCallTimeout, fc.ProviderCallTimeout)
	set(&c.ProviderConcurrency, fc.ProviderConcurrency)

	set(&c.ResumableThreshold, fc.ResumableThreshold)
	set(&c.ChunkSize, fc.ChunkSize)
	set(&c.MaxUploadSize, fc.MaxUploadSize)
	set(&c.SpoolDir, fc.SpoolDir)

	set(&c.SyncSchedule, fc.SyncSchedule)
	setDuration(&c.SyncRunDeadline, fc.SyncRunDeadline)
	set(&c.SyncWorkers, fc.SyncWorkers)
	set(&c.PurgeSchedule, fc.PurgeSchedule)
	setDuration(&c.SoftDeleteRetention, fc.SoftDeleteRetention)

	set(&c.S3Bucket, fc.S3Bucket)
	set(&c.S3Region, fc.S3Region)
	set(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	set(&c.S3AccessKey, fc.S3AccessKey)
	set(&c.S3SecretKey, fc.S3SecretKey)

	set(&c.LogLevel, fc.LogLevel)
	set(&c.LogFormat, fc.LogFormat)
}
