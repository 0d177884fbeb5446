package config

import "testing"

func TestRedisOptionsPlainAddress(t *testing.T) {
	// An 8-character address must not be mistaken for a URL prefix.
	opt, err := redisOptions(&Config{RedisURL: "10.0.0.1", RedisPassword: "pw", RedisDB: 2})
	if err != nil {
		t.Fatalf("redisOptions failed: %v", err)
	}
	if opt.Addr != "10.0.0.1" {
		t.Errorf("addr = %q, want %q", opt.Addr, "10.0.0.1")
	}
	if opt.Password != "pw" || opt.DB != 2 {
		t.Errorf("password/db = %q/%d, want pw/2", opt.Password, opt.DB)
	}
}

func TestRedisOptionsURL(t *testing.T) {
	opt, err := redisOptions(&Config{RedisURL: "redis://:secret@cache.example.com:6380/3"})
	if err != nil {
		t.Fatalf("redisOptions failed: %v", err)
	}
	if opt.Addr != "cache.example.com:6380" {
		t.Errorf("addr = %q, want %q", opt.Addr, "cache.example.com:6380")
	}
	if opt.Password != "secret" || opt.DB != 3 {
		t.Errorf("password/db = %q/%d, want secret/3", opt.Password, opt.DB)
	}
}

func TestRedisOptionsBadURL(t *testing.T) {
	if _, err := redisOptions(&Config{RedisURL: "redis://bad url"}); err == nil {
		t.Error("expected error for malformed URL")
	}
}
