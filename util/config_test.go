package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "convoke" {
		t.Errorf("Expected Name 'convoke', got '%s'", Name)
	}
	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: events.example
  autoAccept: true
  closed: false
`
	if err := os.WriteFile("config.yaml", []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "events.example" {
		t.Errorf("Expected SslDomain 'events.example', got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.AutoAccept {
		t.Error("Expected AutoAccept to be true")
	}
	if config.Conf.Closed {
		t.Error("Expected Closed to be false")
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: events.example
  autoAccept: true
`
	if err := os.WriteFile("config.yaml", []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("CONVOKE_HOST", "192.168.1.1")
	os.Setenv("CONVOKE_HTTPPORT", "8080")
	os.Setenv("CONVOKE_SSLDOMAIN", "other.example")
	os.Setenv("CONVOKE_AUTOACCEPT", "false")
	os.Setenv("CONVOKE_CLOSED", "true")

	defer func() {
		os.Unsetenv("CONVOKE_HOST")
		os.Unsetenv("CONVOKE_HTTPPORT")
		os.Unsetenv("CONVOKE_SSLDOMAIN")
		os.Unsetenv("CONVOKE_AUTOACCEPT")
		os.Unsetenv("CONVOKE_CLOSED")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host from env, got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "other.example" {
		t.Errorf("Expected SslDomain from env, got '%s'", config.Conf.SslDomain)
	}
	if config.Conf.AutoAccept {
		t.Error("Expected AutoAccept overridden to false")
	}
	if !config.Conf.Closed {
		t.Error("Expected Closed overridden to true")
	}
}

func TestBaseURL(t *testing.T) {
	conf := &AppConfig{}
	conf.Conf.SslDomain = "events.example"

	if conf.BaseURL() != "https://events.example" {
		t.Errorf("Unexpected base URL: %s", conf.BaseURL())
	}
}
