package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "chatterpub"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host              string
		HttpPort          int    `yaml:"httpPort"`
		DbPath            string `yaml:"dbPath"`
		ResolveTimeoutSec int    `yaml:"resolveTimeoutSec"`
		KeyCacheTtlSec    int    `yaml:"keyCacheTtlSec"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("CHATTERPUB_HOST")
	envHttpPort := os.Getenv("CHATTERPUB_HTTPPORT")
	envDbPath := os.Getenv("CHATTERPUB_DBPATH")
	envResolveTimeout := os.Getenv("CHATTERPUB_RESOLVE_TIMEOUT_SEC")
	envKeyCacheTtl := os.Getenv("CHATTERPUB_KEY_CACHE_TTL_SEC")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDbPath != "" {
		c.Conf.DbPath = envDbPath
	}

	if envResolveTimeout != "" {
		v, err := strconv.Atoi(envResolveTimeout)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.ResolveTimeoutSec = v
	}

	if envKeyCacheTtl != "" {
		v, err := strconv.Atoi(envKeyCacheTtl)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.KeyCacheTtlSec = v
	}

	return c, nil
}
