package objectstore

import "testing"

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PIPELINE_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("PIPELINE_MINIO_BUCKET_ARTIFACTS", "ci-artifacts")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Endpoint != "minio:9000" || cfg.BucketArtifacts != "ci-artifacts" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Region: "us-east-1", BucketArtifacts: "b"}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "scheme in endpoint", mutate: func(c *Config) { c.Endpoint = "http://minio:9000" }},
		{name: "no bucket", mutate: func(c *Config) { c.BucketArtifacts = " " }},
		{name: "no secret", mutate: func(c *Config) { c.SecretKey = "" }},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config: %v", err)
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestNewMinIOClient_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewMinIOClient(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}
