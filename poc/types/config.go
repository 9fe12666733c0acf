package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/margo/trusted-tally/shared-lib/auth"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	httpauth "github.com/margo/trusted-tally/shared-lib/http/auth"
)

// EnvPrefix namespaces environment overrides, e.g. TALLY_PASSPHRASE or
// TALLY_AUTHORITY_URL.
const EnvPrefix = "TALLY"

type LogConfig struct {
	Development bool   `mapstructure:"development" yaml:"development"`
	Level       string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type KeyConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm" validate:"oneof=rsa ecdsa"`
	Bits      int    `mapstructure:"bits" yaml:"bits" validate:"omitempty,min=2048"`
}

func (k KeyConfig) Spec() pki.KeySpec {
	return pki.KeySpec{Algorithm: pki.KeyAlgorithm(k.Algorithm), Bits: k.Bits}
}

// CATLSConfig controls the authority's own HTTPS listener. The serving leaf
// is issued from the root on first start.
type CATLSConfig struct {
	Enabled  bool        `mapstructure:"enabled" yaml:"enabled"`
	KeyPath  string      `mapstructure:"keyPath" yaml:"keyPath" validate:"required_if=Enabled true"`
	CertPath string      `mapstructure:"certPath" yaml:"certPath" validate:"required_if=Enabled true"`
	Subject  pki.Subject `mapstructure:"subject" yaml:"subject"`
}

// CAConfig configures the root authority service.
type CAConfig struct {
	ListenAddress    string      `mapstructure:"listenAddress" yaml:"listenAddress" validate:"required"`
	RootKeyPath      string      `mapstructure:"rootKeyPath" yaml:"rootKeyPath" validate:"required"`
	RootCertPath     string      `mapstructure:"rootCertPath" yaml:"rootCertPath" validate:"required"`
	SerialPath       string      `mapstructure:"serialPath" yaml:"serialPath" validate:"required"`
	Passphrase       string      `mapstructure:"passphrase" yaml:"passphrase" validate:"required"`
	RootSubject      pki.Subject `mapstructure:"rootSubject" yaml:"rootSubject"`
	RootValidityDays int         `mapstructure:"rootValidityDays" yaml:"rootValidityDays" validate:"min=1"`
	LeafValidityDays int         `mapstructure:"leafValidityDays" yaml:"leafValidityDays" validate:"min=1,ltfield=RootValidityDays"`
	Key              KeyConfig   `mapstructure:"key" yaml:"key"`
	Auth             auth.Config `mapstructure:"auth" yaml:"auth"`
	TLS              CATLSConfig `mapstructure:"tls" yaml:"tls"`
	MaxRequestBytes  int64       `mapstructure:"maxRequestBytes" yaml:"maxRequestBytes" validate:"min=1"`
	Log              LogConfig   `mapstructure:"log" yaml:"log"`
}

func (c CAConfig) RootValidity() time.Duration {
	return time.Duration(c.RootValidityDays) * 24 * time.Hour
}

func (c CAConfig) LeafValidity() time.Duration {
	return time.Duration(c.LeafValidityDays) * 24 * time.Hour
}

// SigningChannelConfig tells a participant how to reach the root authority.
type SigningChannelConfig struct {
	URL                string              `mapstructure:"url" yaml:"url" validate:"required,url"`
	SignPath           string              `mapstructure:"signPath" yaml:"signPath" validate:"required,startswith=/"`
	Timeout            time.Duration       `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxRetries         int                 `mapstructure:"maxRetries" yaml:"maxRetries" validate:"min=0,max=5"`
	RetryDelay         time.Duration       `mapstructure:"retryDelay" yaml:"retryDelay"`
	CACertPath         string              `mapstructure:"caCertPath" yaml:"caCertPath,omitempty"`
	InsecureSkipVerify bool                `mapstructure:"insecureSkipVerify" yaml:"insecureSkipVerify"`
	Auth               httpauth.AuthConfig `mapstructure:"auth" yaml:"auth"`
	// SignerKeyPath, when set, signs enrollment requests with that key
	// (HTTP message signatures) for authorities in signature mode.
	SignerKeyPath    string `mapstructure:"signerKeyPath" yaml:"signerKeyPath,omitempty"`
	SignerPassphrase string `mapstructure:"signerPassphrase" yaml:"signerPassphrase,omitempty"`
}

type BallotConfig struct {
	Modulus   string `mapstructure:"modulus" yaml:"modulus" validate:"required,numeric"`
	Generator string `mapstructure:"generator" yaml:"generator" validate:"required,numeric"`
}

// AuthorityConfig points the relay at the external tally authority.
type AuthorityConfig struct {
	URL                string              `mapstructure:"url" yaml:"url" validate:"required,url"`
	Timeout            time.Duration       `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxRetries         int                 `mapstructure:"maxRetries" yaml:"maxRetries" validate:"min=0,max=5"`
	RetryDelay         time.Duration       `mapstructure:"retryDelay" yaml:"retryDelay"`
	CACertPath         string              `mapstructure:"caCertPath" yaml:"caCertPath,omitempty"`
	InsecureSkipVerify bool                `mapstructure:"insecureSkipVerify" yaml:"insecureSkipVerify"`
	Auth               httpauth.AuthConfig `mapstructure:"auth" yaml:"auth"`
}

type ServerTLSConfig struct {
	ClientAuth string `mapstructure:"clientAuth" yaml:"clientAuth" validate:"oneof=none request require"`
}

// ServerConfig configures the secure ballot service.
type ServerConfig struct {
	ListenAddress string               `mapstructure:"listenAddress" yaml:"listenAddress" validate:"required"`
	KeyPath       string               `mapstructure:"keyPath" yaml:"keyPath" validate:"required"`
	CSRPath       string               `mapstructure:"csrPath" yaml:"csrPath" validate:"required"`
	CertPath      string               `mapstructure:"certPath" yaml:"certPath" validate:"required"`
	CACertPath    string               `mapstructure:"caCertPath" yaml:"caCertPath" validate:"required"`
	Passphrase    string               `mapstructure:"passphrase" yaml:"passphrase"`
	Subject       pki.Subject          `mapstructure:"subject" yaml:"subject"`
	Key           KeyConfig            `mapstructure:"key" yaml:"key"`
	CA            SigningChannelConfig `mapstructure:"ca" yaml:"ca"`
	Ballot        BallotConfig         `mapstructure:"ballot" yaml:"ballot"`
	Authority     AuthorityConfig      `mapstructure:"authority" yaml:"authority"`
	TLS           ServerTLSConfig      `mapstructure:"tls" yaml:"tls"`
	IndexFile     string               `mapstructure:"indexFile" yaml:"indexFile"`
	Log           LogConfig            `mapstructure:"log" yaml:"log"`
}

// Redacted returns a copy with secrets masked, for printing.
func (c ServerConfig) Redacted() ServerConfig {
	out := c
	if out.Passphrase != "" {
		out.Passphrase = "******"
	}
	if out.CA.SignerPassphrase != "" {
		out.CA.SignerPassphrase = "******"
	}
	out.CA.Auth = c.CA.Auth.Redacted()
	out.Authority.Auth = c.Authority.Auth.Redacted()
	return out
}

func setCADefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", ":8443")
	v.SetDefault("rootKeyPath", "data/ca/myCA.key")
	v.SetDefault("rootCertPath", "data/ca/myCA.pem")
	v.SetDefault("serialPath", "data/ca/myCA.srl")
	v.SetDefault("rootSubject.country", "IN")
	v.SetDefault("rootSubject.province", "Diu")
	v.SetDefault("rootSubject.locality", "Diu")
	v.SetDefault("rootSubject.organization", "IIITVICD")
	v.SetDefault("rootSubject.organizationalUnit", "CSE")
	v.SetDefault("rootSubject.commonName", "trusted-tally-root")
	v.SetDefault("rootValidityDays", 3650)
	v.SetDefault("leafValidityDays", 365)
	v.SetDefault("key.algorithm", "rsa")
	v.SetDefault("key.bits", 2048)
	v.SetDefault("auth.mode", "none")
	v.SetDefault("tls.enabled", true)
	v.SetDefault("tls.keyPath", "data/ca/serving.key")
	v.SetDefault("tls.certPath", "data/ca/serving.crt")
	v.SetDefault("tls.subject.commonName", "localhost")
	v.SetDefault("tls.subject.dnsNames", []string{"localhost"})
	v.SetDefault("tls.subject.ipAddresses", []string{"127.0.0.1"})
	v.SetDefault("maxRequestBytes", 64<<10)
	v.SetDefault("log.level", "info")
	_ = v.BindEnv("passphrase")
	_ = v.BindEnv("auth.token")
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", ":3000")
	v.SetDefault("keyPath", "data/server/server.key")
	v.SetDefault("csrPath", "data/server/server.csr")
	v.SetDefault("certPath", "data/server/server.crt")
	v.SetDefault("caCertPath", "data/server/myCA.pem")
	v.SetDefault("subject.country", "US")
	v.SetDefault("subject.province", "State")
	v.SetDefault("subject.locality", "City")
	v.SetDefault("subject.organization", "MyOrg")
	v.SetDefault("subject.organizationalUnit", "MyUnit")
	v.SetDefault("subject.commonName", "localhost")
	v.SetDefault("subject.dnsNames", []string{"localhost"})
	v.SetDefault("subject.ipAddresses", []string{"127.0.0.1"})
	v.SetDefault("key.algorithm", "rsa")
	v.SetDefault("key.bits", 2048)
	v.SetDefault("ca.url", "https://localhost:8443")
	v.SetDefault("ca.signPath", "/sign")
	v.SetDefault("ca.timeout", 10*time.Second)
	v.SetDefault("ca.maxRetries", 1)
	v.SetDefault("ca.retryDelay", time.Second)
	v.SetDefault("ca.insecureSkipVerify", true)
	v.SetDefault("ballot.modulus", "23")
	v.SetDefault("ballot.generator", "5")
	v.SetDefault("authority.url", "http://localhost:5000/api/receive-votes")
	v.SetDefault("authority.timeout", 10*time.Second)
	v.SetDefault("authority.maxRetries", 1)
	v.SetDefault("authority.retryDelay", time.Second)
	v.SetDefault("tls.clientAuth", "none")
	v.SetDefault("indexFile", "public/index.html")
	v.SetDefault("log.level", "info")
	_ = v.BindEnv("passphrase")
	_ = v.BindEnv("ca.auth.token")
	_ = v.BindEnv("authority.auth.token")
}

// ConfigManager loads and validates service configuration.
type ConfigManager struct {
	validator      *validator.Validate
	configFilePath string
}

// NewConfigManager creates a ConfigManager reading completeFilePath. An
// empty path means defaults plus environment only.
func NewConfigManager(completeFilePath string) *ConfigManager {
	return &ConfigManager{
		validator:      validator.New(),
		configFilePath: completeFilePath,
	}
}

func (cm *ConfigManager) LoadCAConfig() (*CAConfig, error) {
	var config CAConfig
	if err := cm.load(setCADefaults, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cm *ConfigManager) LoadServerConfig() (*ServerConfig, error) {
	var config ServerConfig
	if err := cm.load(setServerDefaults, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cm *ConfigManager) load(defaults func(*viper.Viper), out any) error {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cm.configFilePath != "" {
		v.SetConfigFile(cm.configFilePath)
		if err := v.ReadInConfig(); err != nil {
			return NewTallyError(ComponentConfig, OperationReadConfig, ErrMalformedRequest,
				fmt.Errorf("failed to read config file: %w", err), false)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return NewTallyError(ComponentConfig, OperationReadConfig, ErrMalformedRequest,
			fmt.Errorf("failed to unmarshal config: %w", err), false)
	}

	if err := cm.validateConfig(out); err != nil {
		return NewTallyError(ComponentConfig, OperationValidateConfig, ErrMalformedRequest, err, false)
	}
	return nil
}

func (cm *ConfigManager) validateConfig(config any) error {
	if err := cm.validator.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
