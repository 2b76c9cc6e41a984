package migrations

import "embed"

// Files 暴露模块加载历史所需的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
