package mailparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParseRaw(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := crlf(
			`From: "Alice Example" <alice@example.com>`,
			"To: abc@temp-mail.local",
			"Subject: Hello",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Hi there",
			"",
		)

		n, err := ParseRaw(raw)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", n.From)
		assert.Equal(t, "Alice Example", n.FromName)
		assert.Equal(t, "Hello", n.Subject)
		assert.Equal(t, "Hi there", strings.TrimSpace(n.Text))
		assert.Equal(t, "", n.HTML)
		assert.Empty(t, n.Attachments)
		assert.Equal(t, "abc@temp-mail.local", n.Headers["To"])
		assert.Equal(t, int64(len(raw)), n.Size)
	})

	t.Run("多部分邮件含附件", func(t *testing.T) {
		raw := crlf(
			"From: sender@example.com",
			"To: box@temp-mail.local",
			"Subject: Report",
			"MIME-Version: 1.0",
			`Content-Type: multipart/mixed; boundary="outer"`,
			"",
			"--outer",
			`Content-Type: multipart/alternative; boundary="inner"`,
			"",
			"--inner",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"plain body",
			"--inner",
			"Content-Type: text/html; charset=utf-8",
			"",
			"<p>html body</p><script>steal()</script>",
			"--inner--",
			"--outer",
			"Content-Type: application/pdf",
			`Content-Disposition: attachment; filename="report.pdf"`,
			"Content-Transfer-Encoding: base64",
			"",
			"JVBERi0xLjQ=",
			"--outer",
			`Content-Type: image/png; name="logo.png"`,
			`Content-Disposition: inline; filename="logo.png"`,
			"Content-Transfer-Encoding: base64",
			"",
			"iVBORw0KGgo=",
			"--outer--",
			"",
		)

		n, err := ParseRaw(raw)
		require.NoError(t, err)
		assert.Equal(t, "sender@example.com", n.From)
		assert.Equal(t, "plain body", strings.TrimSpace(n.Text))
		assert.Equal(t, "<p>html body</p>", strings.TrimSpace(n.HTML))

		require.Len(t, n.Attachments, 2)
		assert.Equal(t, "report.pdf", n.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", n.Attachments[0].ContentType)
		assert.Equal(t, []byte("%PDF-1.4"), n.Attachments[0].Data)
		assert.Equal(t, "logo.png", n.Attachments[1].Filename)
		assert.Equal(t, "image/png", n.Attachments[1].ContentType)
		assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), n.Attachments[1].Data)
	})

	t.Run("编码主题和非UTF-8正文", func(t *testing.T) {
		raw := crlf(
			"From: sender@example.com",
			"Subject: =?UTF-8?B?5rWL6K+V?=",
			"Content-Type: text/plain; charset=iso-8859-1",
			"Content-Transfer-Encoding: quoted-printable",
			"",
			"caf=E9",
			"",
		)

		n, err := ParseRaw(raw)
		require.NoError(t, err)
		assert.Equal(t, "测试", n.Subject)
		assert.Equal(t, "café", strings.TrimSpace(n.Text))
	})

	t.Run("HTML 单部分邮件", func(t *testing.T) {
		raw := crlf(
			"From: sender@example.com",
			"Content-Type: text/html; charset=utf-8",
			"",
			`<a href="javascript:alert(1)" onclick="x()">click</a>`,
			"",
		)

		n, err := ParseRaw(raw)
		require.NoError(t, err)
		assert.Equal(t, "", n.Text)
		assert.Equal(t, "<a>click</a>", strings.TrimSpace(n.HTML))
	})

	t.Run("缺少主题使用占位", func(t *testing.T) {
		n, err := ParseRaw(crlf("From: a@b.com", "", "body"))
		require.NoError(t, err)
		assert.Equal(t, NoSubject, n.Subject)
	})

	t.Run("空白主题使用占位", func(t *testing.T) {
		n, err := ParseRaw(crlf("From: a@b.com", "Subject:   ", "", "body"))
		require.NoError(t, err)
		assert.Equal(t, NoSubject, n.Subject)
	})

	t.Run("发件人无法解析时整串作为地址", func(t *testing.T) {
		n, err := ParseRaw(crlf("From: not an address", "Subject: x", "", "body"))
		require.NoError(t, err)
		assert.Equal(t, "not an address", n.From)
		assert.Equal(t, "", n.FromName)
	})

	t.Run("空邮件失败", func(t *testing.T) {
		_, err := ParseRaw([]byte("  \r\n"))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("头部格式错误失败", func(t *testing.T) {
		_, err := ParseRaw(crlf("no colon here", "", "body"))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFromFields(t *testing.T) {
	n := FromFields(Fields{
		From:    "Carol <carol@example.com>",
		Subject: "",
		Text:    "hello",
		HTML:    `<p onload="x()">hi</p><iframe src="https://evil"></iframe>`,
		Headers: map[string]string{"Message-Id": "<1@example.com>"},
		Attachments: []Part{
			{Filename: "a.bin", Data: []byte{1, 2, 3}},
		},
	})

	assert.Equal(t, "carol@example.com", n.From)
	assert.Equal(t, "Carol", n.FromName)
	assert.Equal(t, NoSubject, n.Subject)
	assert.Equal(t, "hello", n.Text)
	assert.Equal(t, "<p>hi</p>", n.HTML)
	assert.Equal(t, "<1@example.com>", n.Headers["Message-Id"])
	require.Len(t, n.Attachments, 1)
	assert.Equal(t, "application/octet-stream", n.Attachments[0].ContentType)
	assert.Equal(t, int64(len("hello")+len("<p onload=\"x()\">hi</p><iframe src=\"https://evil\"></iframe>")+3), n.Size)

	t.Run("编码主题", func(t *testing.T) {
		n := FromFields(Fields{From: "a@b.com", Subject: "=?UTF-8?B?5rWL6K+V?="})
		assert.Equal(t, "测试", n.Subject)
		assert.Equal(t, "", n.HTML)
	})
}

func TestParseFrom(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantAddr string
		wantName string
	}{
		{"标准格式", `"Bob" <bob@example.com>`, "bob@example.com", "Bob"},
		{"只有地址", "bob@example.com", "bob@example.com", ""},
		{"名字含逗号", "Bob, Smith <bob@example.com>", "bob@example.com", "Bob, Smith"},
		{"尖括号内非法地址", "<weird address>", "weird address", ""},
		{"整串回退", "  garbage  ", "garbage", ""},
		{"空字符串", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, name := ParseFrom(tt.input)
			assert.Equal(t, tt.wantAddr, addr)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"单个地址", "box@temp.mail", []string{"box@temp.mail"}},
		{"多个地址带显示名", `"Doe, John" <a@temp.mail>, b@temp.mail`, []string{"a@temp.mail", "b@temp.mail"}},
		{"不规范时逐个回退", "a@temp.mail, <b@temp.mail", []string{"a@temp.mail", "<b@temp.mail"}},
		{"空字符串", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAddresses(tt.input))
		})
	}
}
