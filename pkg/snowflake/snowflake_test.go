package snowflake

import "testing"

// TestGenerateUnique 测试生成的 ID 不重复且递增
func TestGenerateUnique(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	seen := make(map[ID]bool)
	var last ID

	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if seen[id] {
			t.Fatalf("重复的 ID: %d", id)
		}
		seen[id] = true

		if id <= last {
			t.Fatalf("期望 ID 递增, 上一个 = %d, 当前 = %d", last, id)
		}
		last = id
	}
}

// TestNewNodeInvalidID 测试非法节点 ID 回退到默认值
func TestNewNodeInvalidID(t *testing.T) {
	node, err := NewNode(-5)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	if node.nodeID != 1 {
		t.Errorf("期望 nodeID = 1, 实际 = %d", node.nodeID)
	}

	node, _ = NewNode(maxNodeID + 1)
	if node.nodeID != 1 {
		t.Errorf("期望 nodeID = 1, 实际 = %d", node.nodeID)
	}
}
