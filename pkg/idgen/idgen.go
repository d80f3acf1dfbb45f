// Package idgen 雪花 ID 生成器
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator 生成全局唯一的 int64 ID
type Generator interface {
	NextID() int64
}

// Snowflake 基于 bwmarrin/snowflake 的实现
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake 创建雪花 ID 生成器，nodeID 取值 [0, 1023]
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// NextID 生成下一个 ID
func (s *Snowflake) NextID() int64 {
	return s.node.Generate().Int64()
}
