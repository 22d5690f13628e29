// Package idgen 提供基于雪花算法的业务 ID 生成器
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init 使用指定节点编号初始化生成器，重复调用只生效一次
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// GenID 生成一个全局唯一的数字 ID
func GenID() int64 {
	if node == nil {
		// 默认节点，便于测试环境直接使用
		_ = Init(1)
	}
	return node.Generate().Int64()
}

// OrderID 生成订单业务主键
func OrderID() string {
	return fmt.Sprintf("ORD-%d", GenID())
}

// TradeID 生成成交业务主键
func TradeID() string {
	return fmt.Sprintf("TRD-%d", GenID())
}

// WalletID 生成钱包业务主键
func WalletID() string {
	return fmt.Sprintf("WAL-%d", GenID())
}

// LedgerEntryID 生成流水业务主键
func LedgerEntryID() string {
	return fmt.Sprintf("LED-%d", GenID())
}

// TrackingCode 生成对外展示的流水追踪码
func TrackingCode() string {
	return fmt.Sprintf("TRK-%d", GenID())
}
