// Package contextx 提供在 context 中传递数据库事务的辅助方法
package contextx

import "context"

type txKey struct{}

// WithTx 将事务对象放入 context，供仓储层透明使用
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTx 从 context 中取出事务对象，不存在时返回 nil
func GetTx(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}
