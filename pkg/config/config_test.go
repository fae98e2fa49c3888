package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad 测试默认值、环境变量、配置文件与命令行修改的优先级
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
input: in.mp4
decrypt:
  keys:
    - 00112233445566778899aabbccddeeff
  tracks: 1,3
  concurrency: 2
log:
  level: debug
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("CENC_DECRYPT_CONCURRENCY", "4")
	t.Setenv("CENC_LOG_MAXFILES", "3")
	var tool Tool
	c, err := Load(&tool, "CENC", path, map[string]any{
		"output":  "out.mp4",
		"decrypt": map[string]any{"verify": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tool.Input != "in.mp4" || tool.Output != "out.mp4" {
		t.Errorf("files %q %q", tool.Input, tool.Output)
	}
	if len(tool.Decrypt.Keys) != 1 || tool.Decrypt.Tracks != "1,3" || !tool.Decrypt.Verify {
		t.Errorf("decrypt %+v", tool.Decrypt)
	}
	if tool.Decrypt.Concurrency != 4 {
		t.Errorf("environment should win over the file, got %d", tool.Decrypt.Concurrency)
	}
	if tool.Log.Level != "debug" || tool.Log.MaxFiles != 3 || tool.Log.Size != 1048576 {
		t.Errorf("log %+v", tool.Log)
	}
	if c.Modify == nil {
		t.Error("modification not recorded")
	}
}

// TestModify 与原值相同的修改不会被记录
func TestModify(t *testing.T) {
	var tool Tool
	var conf Config
	conf.Parse(&tool, "CENC")
	conf.ParseModifyFile(map[string]any{
		"decrypt": map[string]any{"tracks": "all"},
	})
	if conf.Modify != nil {
		t.Fail()
	}
	conf.ParseModifyFile(map[string]any{
		"decrypt": map[string]any{"tracks": "2"},
	})
	if conf.Modify == nil || tool.Decrypt.Tracks != "2" {
		t.Fail()
	}
}

func TestInvalid(t *testing.T) {
	t.Run("enum", func(t *testing.T) {
		var tool Tool
		if _, err := Load(&tool, "CENC", "", map[string]any{"log": map[string]any{"level": "loud"}}); err == nil {
			t.Fatal("unknown level accepted")
		}
	})
	t.Run("type", func(t *testing.T) {
		var tool Tool
		if _, err := Load(&tool, "CENC", "", map[string]any{"decrypt": map[string]any{"concurrency": "many"}}); err == nil {
			t.Fatal("non numeric concurrency accepted")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		var tool Tool
		if _, err := Load(&tool, "CENC", filepath.Join(t.TempDir(), "none.yaml"), nil); err == nil {
			t.Fatal("missing file accepted")
		}
	})
}
