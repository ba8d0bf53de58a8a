package port

import "errors"

// 错误分类：调度器根据类别决定跳过本轮、中止提交或仅记录
var (
	// ErrFetchUnavailable 拉取失败（网络、超时、非 2xx、响应体无法解析），本轮跳过且不改变状态
	ErrFetchUnavailable = errors.New("snapshot source unavailable")
	// ErrPersistence 槽位读写失败
	ErrPersistence = errors.New("snapshot persistence failed")
	// ErrCorruptSlot 槽位存在但无法解码
	ErrCorruptSlot = errors.New("snapshot slot is corrupt")
	// ErrChannelDelivery 单个通知通道投递失败
	ErrChannelDelivery = errors.New("notification delivery failed")
	// ErrNothingStaged promote 时没有已暂存的 current
	ErrNothingStaged = errors.New("no staged snapshot to promote")
)
