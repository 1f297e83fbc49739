package initial

import (
	"KnowBase/internal/config"
	"KnowBase/pkg/zlog"
)

// 日志先于其它进程级单例初始化，保证 gorm/milvus 失败时能按配置落盘
func init() {
	zlog.Init(config.GetConfig().LogConfig.LogPath)
}
