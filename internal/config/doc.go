// Package config 负责加载 Auditum 的运行配置：默认值、YAML 配置文件与环境变量依次叠加，
// 在进程启动时解析一次。
package config
