package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"sentinela/domain/entity"
)

func NewConfigRepository(path string) (*Config, error) {
	viper.SetConfigFile(path)

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("execution_timeout_seconds", 30)
	viper.SetDefault("summary_timeout_seconds", 20)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var c Config
	err = viper.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

type Config struct {
	HTTPAddr                string                    `mapstructure:"http_addr"`
	NotifyChannel           string                    `mapstructure:"notify_channel" validate:"required"`
	ExecutionTimeoutSeconds int                       `mapstructure:"execution_timeout_seconds" validate:"gt=0"`
	SummaryTimeoutSeconds   int                       `mapstructure:"summary_timeout_seconds" validate:"gt=0"`
	AutomationScriptList    []entity.AutomationScript `mapstructure:"automation_scripts"`
	Confluence              ConfluenceConfig          `mapstructure:"confluence"`
}

type ConfluenceConfig struct {
	AncestorID string `mapstructure:"ancestor_id"`
	Space      string `mapstructure:"space"`
	Domain     string `mapstructure:"domain"`
}

func (c *Config) AutomationScripts(_ context.Context) []entity.AutomationScript {
	var scripts []entity.AutomationScript
	for _, script := range c.AutomationScriptList {
		if script.Disabled {
			continue
		}
		scripts = append(scripts, script)
	}
	return scripts
}

func (c *Config) AutomationScriptByName(_ context.Context, name string) (*entity.AutomationScript, error) {
	for _, script := range c.AutomationScriptList {
		if script.Name == name && !script.Disabled {
			return &script, nil
		}
	}
	return nil, fmt.Errorf("automation script not found")
}
