package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StorageFields 描述文件存储的位置与后缀。
func StorageFields(directory, suffix, tempSuffix string) logrus.Fields {
	return logrus.Fields{
		"storage_path": directory,
		"file_suffix":  suffix,
		"temp_suffix":  tempSuffix,
	}
}

// EntryFields 提供 key/命中状态字段，供诊断请求与 CLI 日志复用。
func EntryFields(key string, exists bool, capabilities []string) logrus.Fields {
	return logrus.Fields{
		"key":          key,
		"exists":       exists,
		"capabilities": capabilities,
	}
}
