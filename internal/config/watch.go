package config

import (
	"intranet-assistant-go/pkg/log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PromptStore 持有可热更新的提示模板，读写并发安全。
type PromptStore struct {
	mu     sync.RWMutex
	prompt LLMPromptConfig
}

// NewPromptStore 使用初始模板创建 PromptStore。
func NewPromptStore(initial LLMPromptConfig) *PromptStore {
	return &PromptStore{prompt: initial}
}

// Get 返回当前的提示模板。
func (s *PromptStore) Get() LLMPromptConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

// Set 替换提示模板。
func (s *PromptStore) Set(p LLMPromptConfig) {
	s.mu.Lock()
	s.prompt = p
	s.mu.Unlock()
}

// Watch 监听配置文件变化，只重新加载 llm.prompt 部分；其余配置需要重启生效。
func Watch(configPath string, store *PromptStore) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Warnf("配置热更新未启用, 读取 '%s' 失败: %v", configPath, err)
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var p LLMPromptConfig
		if err := v.UnmarshalKey("llm.prompt", &p); err != nil {
			log.Errorf("重新加载提示模板失败: %v", err)
			return
		}
		store.Set(p)
		log.Infof("检测到配置文件变化 (%s), 提示模板已重新加载", e.Name)
	})
	v.WatchConfig()
}
