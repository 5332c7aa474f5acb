/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

Manager 封装 net/http.Server：Start 非阻塞启动，Run 阻塞到 ctx 取消后
优雅关闭，适合放进 errgroup 与其他监听器并行运行。Config.TLSConfig
非空时以 HTTPS 提供服务（证书由 internal/tlsutil 加载）。
信号处理由调用方负责（signal.NotifyContext）。
*/
package server
