package loader

import (
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/config"
	"github.com/ferryd/ferry/server/registry"
)

type telegramCarrier struct {
	BotToken       string `toml:"bot_token"`
	ChatID         int64  `toml:"chat_id"`
	APIEndpoint    string `toml:"api_endpoint"`
	MaxObjectBytes int64  `toml:"max_object_bytes"`
}

type s3Carrier struct {
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	KeyPrefix      string `toml:"key_prefix"`
	MaxObjectBytes int64  `toml:"max_object_bytes"`
}

type filesystemCarrier struct {
	Root           string `toml:"root"`
	MaxObjectBytes int64  `toml:"max_object_bytes"`
}

type sqliteRegistry struct {
	Path string `toml:"path"`
}

type configFile struct {
	Host                       string `toml:"host"`
	Port                       uint   `toml:"port"`
	PublicBaseURL              string `toml:"public_base_url"`
	MaxUploadBytes             int64  `toml:"max_upload_bytes"`
	ChunkBytes                 int64  `toml:"chunk_bytes"`
	MaxMultipartMemoryBytes    int64  `toml:"max_multipart_memory_bytes"`
	SourceHeaderTimeoutSeconds int64  `toml:"source_header_timeout_seconds"`

	TelegramCarrier   *telegramCarrier   `toml:"telegram_carrier"`
	S3Carrier         *s3Carrier         `toml:"s3_carrier"`
	FilesystemCarrier *filesystemCarrier `toml:"filesystem_carrier"`
	SQLiteRegistry    *sqliteRegistry    `toml:"sqlite_registry"`
}

// LoadConfigTOML merges the file at path into conf, constructing carriers
// and the registry from their config sections. The Telegram carrier (or the
// filesystem carrier in dev setups) becomes the primary; S3 becomes the
// bulk carrier.
func LoadConfigTOML(conf *config.Config, path string) error {
	var cfg configFile
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if len(md.Undecoded()) > 0 {
		return fmt.Errorf("unknown keys in config: %v", md.Undecoded())
	}
	if cfg.Host != "" {
		conf.Host = cfg.Host
	}
	if cfg.Port != 0 {
		conf.Port = cfg.Port
	}
	if cfg.PublicBaseURL != "" {
		u, err := url.ParseRequestURI(cfg.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("parsing PublicBaseURL: %w", err)
		}
		conf.PublicBaseURL = u
	}
	if cfg.MaxUploadBytes != 0 {
		conf.MaxUploadBytes = cfg.MaxUploadBytes
	}
	if cfg.ChunkBytes != 0 {
		conf.ChunkBytes = cfg.ChunkBytes
	}
	if cfg.MaxMultipartMemoryBytes != 0 {
		conf.MaxMultipartMemoryBytes = cfg.MaxMultipartMemoryBytes
	}
	if cfg.SourceHeaderTimeoutSeconds != 0 {
		conf.SourceHeaderTimeout = time.Duration(cfg.SourceHeaderTimeoutSeconds) * time.Second
	}
	if cfg.TelegramCarrier != nil {
		store, err := blobstore.NewTelegramStore(
			cfg.TelegramCarrier.BotToken,
			cfg.TelegramCarrier.ChatID,
			cfg.TelegramCarrier.APIEndpoint,
			cfg.TelegramCarrier.MaxObjectBytes,
		)
		if err != nil {
			return fmt.Errorf("constructing telegram carrier: %w", err)
		}
		conf.PrimaryCarrier = store
	}
	if cfg.FilesystemCarrier != nil {
		store := &blobstore.FilesystemStore{
			Root:     cfg.FilesystemCarrier.Root,
			MaxBytes: cfg.FilesystemCarrier.MaxObjectBytes,
		}
		if conf.PrimaryCarrier == nil {
			conf.PrimaryCarrier = store
		}
	}
	if cfg.S3Carrier != nil {
		store, err := blobstore.NewS3Store(
			cfg.S3Carrier.Region,
			cfg.S3Carrier.Bucket,
			cfg.S3Carrier.KeyPrefix,
			cfg.S3Carrier.MaxObjectBytes,
			func(awsCfg aws.Config, opts func(*s3.Options)) blobstore.S3Client {
				return s3.NewFromConfig(awsCfg, opts)
			},
		)
		if err != nil {
			return fmt.Errorf("constructing s3 carrier: %w", err)
		}
		conf.BulkCarrier = store
	}
	if cfg.SQLiteRegistry != nil {
		reg, err := registry.OpenSQLite(cfg.SQLiteRegistry.Path)
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}
		conf.Registry = reg
	}
	return nil
}

// RegistryPathTOML reads only the sqlite registry path from the file at
// path, without constructing carriers. Used by the migrate command so it can
// run without carrier credentials being reachable.
func RegistryPathTOML(path string) (string, error) {
	var cfg configFile
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return "", fmt.Errorf("decoding config: %w", err)
	}
	if cfg.SQLiteRegistry == nil || cfg.SQLiteRegistry.Path == "" {
		return "", fmt.Errorf("config %s has no [sqlite_registry] path", path)
	}
	return cfg.SQLiteRegistry.Path, nil
}

// DumpConfigTOML renders the scalar parts of conf back as TOML. Carrier and
// registry sections are omitted because stores do not expose their
// credentials back out.
func DumpConfigTOML(conf *config.Config) (string, error) {
	cfg := configFile{
		Host:                       conf.Host,
		Port:                       conf.Port,
		MaxUploadBytes:             conf.MaxUploadBytes,
		ChunkBytes:                 conf.ChunkBytes,
		MaxMultipartMemoryBytes:    conf.MaxMultipartMemoryBytes,
		SourceHeaderTimeoutSeconds: int64(conf.SourceHeaderTimeout / time.Second),
	}
	if conf.PublicBaseURL != nil {
		cfg.PublicBaseURL = conf.PublicBaseURL.String()
	}
	buf, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	return string(buf), nil
}
