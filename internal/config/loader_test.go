package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
ShutdownTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsDurationStrings(t *testing.T) {
	cfg := `
StoragePath = "./data"
ReadTimeout = "1m30s"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.ReadTimeout.DurationValue().Seconds(); got != 90 {
		t.Fatalf("ReadTimeout 应为 90s, got %v", got)
	}
}

func TestLoadRejectsBadItemSection(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Item]
lock_retries = -1
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("负数 lock_retries 应失败")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("不存在的配置文件应返回错误")
	}
}
