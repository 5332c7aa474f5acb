// 版权所有 2024 TaskEngine Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，为共享结果层提供连接生命周期管理。

# 核心类型

  - Manager：持有 Redis 客户端，提供 GetBytes/SetBytes/Delete/TTL/Ping，
    以及带前缀的键拼接和后台健康检查。
  - Config：地址、密码、键前缀、默认 TTL、连接池与健康检查间隔。
  - Stats：从 INFO 输出解析的命中、未命中、内存与连接数。

# 错误语义

ErrCacheMiss 表示键不存在，ErrClosed 表示管理器已关闭。
*/
package cache
