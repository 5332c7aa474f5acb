// Package backends 提供 engine.Backend 的实现：以子进程运行厂商 CLI 的
// CommandBackend，以及把函数适配为后端的 FuncBackend。
package backends
