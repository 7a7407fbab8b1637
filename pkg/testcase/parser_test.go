package testcase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/resolver"
)

const chineseCase = `---
test_name: "聊天功能测试"
environment: "test"
timeout: 300
retry_count: 2
expected_chat_responses: ["你好", "再见"]
---

## 发送聊天信息

** 目标：**
打开{{base_url}}/#/login，点击第一条会话，发送"hello world"

### 步骤 1: 登陆网页
- 访问 {{base_url}}/#/login，先点击【手机登陆】

### 步骤 2：开始登陆
- 点击手机号输入框输入{{credentials.phone}}
- 点击登陆按钮
期待结果: 进入首页

### 步骤 3: 发送消息
- 点击输入框，输入"hello world"
- 点击发送按钮

期待结果:
- 能正常回复其他人发过来的聊天信息
- 正确识别exit退出条件
`

func TestParseExample(t *testing.T) {
	tc, err := Parse([]byte(Example))
	require.NoError(t, err)

	assert.Equal(t, "Login and open the inbox", tc.Name)
	assert.Equal(t, "test", tc.Environment)
	assert.Equal(t, 600, tc.TimeoutSeconds)
	assert.Equal(t, 3, tc.RetryCount)
	assert.Equal(t, "hello world", tc.CustomData["message"])
	assert.Equal(t, "high", tc.Metadata["priority"])
	assert.Contains(t, tc.Objective, "log in to {{base_url}}")

	require.Len(t, tc.Steps, 3)
	assert.Equal(t, 1, tc.Steps[0].Number)
	assert.Equal(t, "Open the login page", tc.Steps[0].Title)
	assert.Equal(t, []string{
		"Go to {{base_url}}/#/login",
		`Click the "Phone login" tab before typing anything`,
	}, tc.Steps[0].Actions)
	assert.Equal(t, "the phone number field is visible", tc.Steps[0].Expected)
	assert.Equal(t, `url contains "/home"`, tc.Steps[1].Expected)
	assert.Len(t, tc.Steps[1].Actions, 3)

	assert.Equal(t, []string{"The user is logged in", "The greeting is delivered"}, tc.ExpectedResults)
}

func TestParseChinese(t *testing.T) {
	tc, err := Parse([]byte(chineseCase))
	require.NoError(t, err)

	assert.Equal(t, "聊天功能测试", tc.Name)
	assert.Equal(t, 2, tc.RetryCount)
	assert.Equal(t, `打开{{base_url}}/#/login，点击第一条会话，发送"hello world"`, tc.Objective)
	assert.Equal(t, []any{"你好", "再见"}, tc.Metadata["expected_chat_responses"])

	require.Len(t, tc.Steps, 3)
	assert.Equal(t, "登陆网页", tc.Steps[0].Title)
	assert.Equal(t, "开始登陆", tc.Steps[1].Title)
	assert.Equal(t, []string{"点击手机号输入框输入{{credentials.phone}}", "点击登陆按钮"}, tc.Steps[1].Actions)
	assert.Equal(t, "进入首页", tc.Steps[1].Expected)

	assert.Len(t, tc.Steps[2].Actions, 2)
	assert.Equal(t, []string{"能正常回复其他人发过来的聊天信息", "正确识别exit退出条件"}, tc.ExpectedResults)

	assert.Equal(t, []string{"base_url", "credentials.phone"},
		resolver.Missing(tc, resolver.Vars{}))
}

func TestParseWithoutFrontMatterUsesHeading(t *testing.T) {
	tc, err := Parse([]byte("# Search\n\n### Step 1: search\n- type golang and press Enter\n"))
	require.NoError(t, err)

	assert.Equal(t, "Search", tc.Name)
	assert.Nil(t, tc.CustomData)
	require.Len(t, tc.Steps, 1)
	assert.Equal(t, []string{"type golang and press Enter"}, tc.Steps[0].Actions)
}

func TestParseStepDescription(t *testing.T) {
	tc, err := Parse([]byte("### Step 1: wait\nThe dashboard loads slowly.\n\n- wait for the chart\n"))
	require.NoError(t, err)

	assert.Equal(t, "The dashboard loads slowly.", tc.Steps[0].Description)
	assert.Equal(t, []string{"wait for the chart"}, tc.Steps[0].Actions)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"no steps":        "# Nothing\n\nJust prose.\n",
		"duplicate step":  "### Step 1: a\n- x\n### Step 1: b\n- y\n",
		"bad frontmatter": "---\ntest_name: [unclosed\n---\n### Step 1: a\n",
	}
	for name, source := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(source))
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout_flow.md")
	require.NoError(t, os.WriteFile(path, []byte("### Step 1: pay\n- click pay\n"), 0o644))

	tc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout_flow", tc.Name)
	assert.Equal(t, path, tc.SourcePath)

	_, err = ParseFile(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
