// Package api 提供已加载模块的只读 HTTP 接口：健康检查、模块列表与详情、加载历史、
// 最近的生命周期事件、scraper 检索以及 Prometheus 指标。
package api
