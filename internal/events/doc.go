// Package events 将模块发现与加载的生命周期事件发布到外部系统，支持内存、Redis
// 与 RabbitMQ 三种后端，并以 module.Observer 的形式挂接到发现与加载流程上。
package events
