package transport

import "testing"

// TestBuildConversationSubject 测试会话 Subject 构建
func TestBuildConversationSubject(t *testing.T) {
	got := BuildConversationSubject(42)
	want := "market.chat.conversation.42"
	if got != want {
		t.Errorf("期望 Subject = %s, 实际 = %s", want, got)
	}
}

// TestBuildUserSubject 测试用户 Subject 构建
func TestBuildUserSubject(t *testing.T) {
	got := BuildUserSubject(1001)
	want := "market.chat.user.1001"
	if got != want {
		t.Errorf("期望 Subject = %s, 实际 = %s", want, got)
	}
}
