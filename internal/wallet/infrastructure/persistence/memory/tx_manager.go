package memory

import "context"

// TxManager 内存事务管理器。内存仓储的写入即时可见且无法回滚，
// 这里只负责把调用串成一个单元，事务语义由测试断言覆盖。
type TxManager struct{}

// NewTxManager 创建内存事务管理器
func NewTxManager() *TxManager {
	return &TxManager{}
}

// WithTx 直接执行回调
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
