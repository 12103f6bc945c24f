package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/stampede-cache/stampede/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort < 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 0-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.FileSuffix == g.TempSuffix {
		return newFieldError("Global.TempSuffix", "不能与 FileSuffix 相同")
	}
	if strings.ContainsAny(g.FileSuffix+g.TempSuffix, `/\`) {
		return newFieldError("Global.FileSuffix", "后缀不能包含路径分隔符")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if lvl := strings.TrimSpace(g.LogLevel); lvl != "" {
		if _, err := logrus.ParseLevel(lvl); err != nil {
			return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", lvl))
		}
	}
	if g.ReadTimeout.DurationValue() < 0 || g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	if _, err := cache.ParseOptions(cache.DefaultOptions(), c.Item); err != nil {
		return fmt.Errorf("Item: %w", err)
	}

	seen := map[string]struct{}{}
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return newFieldError("Namespace[].Name", "不能为空")
		}
		if strings.Contains(ns.Name, "..") {
			return newFieldError(namespaceField(ns.Name, "Name"), "不允许包含 ..")
		}
		if _, exists := seen[ns.Name]; exists {
			return newFieldError(namespaceField(ns.Name, "Name"), "重复")
		}
		seen[ns.Name] = struct{}{}

		if _, err := c.namespaceOptions(ns); err != nil {
			return fmt.Errorf("%s: %w", namespaceField(ns.Name, "Item"), err)
		}
	}

	return nil
}

// ItemOptions 返回全局 [Item] 段覆盖默认值后的条目选项。
func (c *Config) ItemOptions() (cache.Options, error) {
	return cache.ParseOptions(cache.DefaultOptions(), c.Item)
}

// EffectiveItemOptions 返回 key 生效的选项：最长匹配的命名空间覆盖全局 [Item]，
// 未匹配时回退至全局值。
func (c *Config) EffectiveItemOptions(key string) (cache.Options, error) {
	key = strings.Trim(key, "/")
	var best *NamespaceConfig
	for i := range c.Namespaces {
		ns := &c.Namespaces[i]
		if !strings.HasPrefix(key, ns.Name+"/") {
			continue
		}
		if best == nil || len(ns.Name) > len(best.Name) {
			best = ns
		}
	}
	if best == nil {
		return c.ItemOptions()
	}
	return c.namespaceOptions(*best)
}

func (c *Config) namespaceOptions(ns NamespaceConfig) (cache.Options, error) {
	base, err := c.ItemOptions()
	if err != nil {
		return cache.Options{}, err
	}
	return cache.ParseOptions(base, ns.Item)
}
