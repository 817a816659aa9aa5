package httptransport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/ingest"
	"tempmail/inbox/internal/mailparse"
	"tempmail/inbox/internal/middleware"
)

// inboundMail 映射到统一格式后的 webhook 请求
type inboundMail struct {
	Recipients []string
	Payload    ingest.Payload
}

// webhookAdapter 把某个服务商的请求映射为统一格式，这是唯一与服务商相关的逻辑
type webhookAdapter func(c *gin.Context) (*inboundMail, error)

var webhookAdapters = map[string]webhookAdapter{
	"inbound":  inboundAdapter,
	"mailgun":  mailgunAdapter,
	"sendgrid": sendgridAdapter,
	"postmark": postmarkAdapter,
}

// multipart 表单在内存中保留的上限，超出部分写入临时文件
const maxMultipartMemory = 8 << 20

type webhookResult struct {
	Recipient string `json:"recipient"`
	Outcome   string `json:"outcome"`
	AddressID string `json:"addressId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// receiveWebhook 接收服务商推送的邮件。
//
// 任一收件人保存成功返回 200；否则存储失败优先返回 500，其次地址过期返回 410，地址不存在返回 400。
func (h *Handler) receiveWebhook(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	adapt, ok := webhookAdapters[provider]
	if !ok {
		Fail(c, http.StatusBadRequest, CodeUnknownProvider, fmt.Sprintf("unknown provider %q", provider))
		return
	}

	mail, err := adapt(c)
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			Fail(c, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		h.log.Info("webhook rejected", zap.String("provider", provider), zap.Error(err))
		BadRequest(c, err.Error())
		return
	}

	results, err := h.ingester.IngestAll(c.Request.Context(), mail.Recipients, mail.Payload)
	if err != nil {
		Fail(c, http.StatusBadRequest, domain.KindValidation.String(), err.Error())
		return
	}

	out := make([]webhookResult, len(results))
	var stored, failed, expired int
	for i, res := range results {
		out[i] = webhookResult{
			Recipient: res.Recipient,
			Outcome:   res.Outcome.String(),
			AddressID: res.AddressID,
			MessageID: res.MessageID,
		}
		switch {
		case res.Err != nil:
			failed++
			out[i].Outcome = "failed"
			out[i].Error = MsgInternalError
		case res.Outcome == ingest.OutcomeStored:
			stored++
		case res.Outcome == ingest.OutcomeAddressExpired:
			expired++
		}
	}

	switch {
	case stored > 0:
		Success(c, gin.H{"results": out})
	case failed > 0:
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Success: false,
			Data:    gin.H{"results": out},
			Error:   &ErrorBody{Code: domain.KindTransient.String(), Message: "failed to store message"},
		})
	case expired > 0:
		c.AbortWithStatusJSON(http.StatusGone, Response{
			Success: false,
			Data:    gin.H{"results": out},
			Error:   &ErrorBody{Code: domain.KindExpired.String(), Message: domain.ErrAddressExpired.Error()},
		})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Success: false,
			Data:    gin.H{"results": out},
			Error:   &ErrorBody{Code: domain.KindNotFound.String(), Message: domain.ErrAddressNotFound.Error()},
		})
	}
}

// ========== 内部测试格式 ==========

type inboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64
}

type inboundRequest struct {
	To          []string            `json:"to"`
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Headers     map[string]string   `json:"headers"`
	Attachments []inboundAttachment `json:"attachments"`
	Raw         string              `json:"raw"` // 可选的原始 MIME
}

// inboundAdapter JSON 或 multipart；multipart 时 to 可重复或逗号分隔，附件使用任意文件字段
func inboundAdapter(c *gin.Context) (*inboundMail, error) {
	if isMultipart(c) {
		form, err := multipartForm(c)
		if err != nil {
			return nil, err
		}
		fields := &mailparse.Fields{
			From:    formValue(form, "from"),
			Subject: formValue(form, "subject"),
			Text:    formValue(form, "text"),
			HTML:    formValue(form, "html"),
		}
		parts, err := formFiles(form, nil)
		if err != nil {
			return nil, err
		}
		fields.Attachments = parts
		return buildMail(splitRecipients(form.Value["to"]...), "", fields)
	}

	var req inboundRequest
	if err := decodeJSON(c, &req); err != nil {
		return nil, err
	}
	parts := make([]mailparse.Part, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: invalid base64 content", i)
		}
		parts = append(parts, mailparse.Part{Filename: a.Filename, ContentType: a.ContentType, Data: data})
	}
	return buildMail(splitRecipients(req.To...), req.Raw, &mailparse.Fields{
		From:        req.From,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Headers:     req.Headers,
		Attachments: parts,
	})
}

// ========== Mailgun ==========

// mailgunAdapter 路由转发的 multipart 表单，body-mime 存在时按原始邮件处理
func mailgunAdapter(c *gin.Context) (*inboundMail, error) {
	form, err := multipartForm(c)
	if err != nil {
		return nil, err
	}
	from := formValue(form, "from")
	if from == "" {
		from = formValue(form, "sender")
	}
	fields := &mailparse.Fields{
		From:    from,
		Subject: formValue(form, "subject"),
		Text:    formValue(form, "body-plain"),
		HTML:    formValue(form, "body-html"),
		Headers: mailgunHeaders(formValue(form, "message-headers")),
	}
	parts, err := formFiles(form, func(field string) bool { return strings.HasPrefix(field, "attachment-") })
	if err != nil {
		return nil, err
	}
	fields.Attachments = parts
	return buildMail(splitRecipients(formValue(form, "recipient")), formValue(form, "body-mime"), fields)
}

// mailgunHeaders message-headers 是 [[name, value], ...] 形式的 JSON
func mailgunHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var pairs [][]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil
	}
	headers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if len(p) == 2 {
			headers[p[0]] = p[1]
		}
	}
	return headers
}

// ========== SendGrid ==========

type sendgridEnvelope struct {
	To   []string `json:"to"`
	From string   `json:"from"`
}

// sendgridAdapter Inbound Parse 表单；收件人优先取 envelope，原始模式下邮件在 email 字段
func sendgridAdapter(c *gin.Context) (*inboundMail, error) {
	form, err := multipartForm(c)
	if err != nil {
		return nil, err
	}

	var env sendgridEnvelope
	if raw := formValue(form, "envelope"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, errors.New("invalid envelope")
		}
	}
	recipients := env.To
	if len(recipients) == 0 {
		recipients = splitRecipients(formValue(form, "to"))
	}
	from := formValue(form, "from")
	if from == "" {
		from = env.From
	}

	fields := &mailparse.Fields{
		From:    from,
		Subject: formValue(form, "subject"),
		Text:    formValue(form, "text"),
		HTML:    formValue(form, "html"),
	}
	parts, err := formFiles(form, func(field string) bool { return strings.HasPrefix(field, "attachment") })
	if err != nil {
		return nil, err
	}
	fields.Attachments = parts
	return buildMail(splitRecipients(recipients...), formValue(form, "email"), fields)
}

// ========== Postmark ==========

type postmarkAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name"`
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkRequest struct {
	From              string               `json:"From"`
	FromFull          postmarkAddress      `json:"FromFull"`
	To                string               `json:"To"`
	ToFull            []postmarkAddress    `json:"ToFull"`
	OriginalRecipient string               `json:"OriginalRecipient"`
	Subject           string               `json:"Subject"`
	TextBody          string               `json:"TextBody"`
	HTMLBody          string               `json:"HtmlBody"`
	Headers           []postmarkHeader     `json:"Headers"`
	Attachments       []postmarkAttachment `json:"Attachments"`
	RawEmail          string               `json:"RawEmail"`
}

// postmarkAdapter 入站 JSON；OriginalRecipient 优先于 ToFull
func postmarkAdapter(c *gin.Context) (*inboundMail, error) {
	var req postmarkRequest
	if err := decodeJSON(c, &req); err != nil {
		return nil, err
	}

	var recipients []string
	switch {
	case req.OriginalRecipient != "":
		recipients = []string{req.OriginalRecipient}
	case len(req.ToFull) > 0:
		for _, a := range req.ToFull {
			recipients = append(recipients, a.Email)
		}
	default:
		recipients = splitRecipients(req.To)
	}

	from := req.From
	if req.FromFull.Email != "" {
		from = req.FromFull.Email
		if req.FromFull.Name != "" {
			from = fmt.Sprintf("%q <%s>", req.FromFull.Name, req.FromFull.Email)
		}
	}

	headers := make(map[string]string, len(req.Headers))
	for _, h := range req.Headers {
		headers[h.Name] = h.Value
	}
	parts := make([]mailparse.Part, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: invalid base64 content", i)
		}
		parts = append(parts, mailparse.Part{Filename: a.Name, ContentType: a.ContentType, Data: data})
	}

	return buildMail(splitRecipients(recipients...), req.RawEmail, &mailparse.Fields{
		From:        from,
		Subject:     req.Subject,
		Text:        req.TextBody,
		HTML:        req.HTMLBody,
		Headers:     headers,
		Attachments: parts,
	})
}

// ========== 公共方法 ==========

// buildMail 校验必填字段；提供原始邮件时忽略结构化字段
func buildMail(recipients []string, raw string, fields *mailparse.Fields) (*inboundMail, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: recipient", domain.ErrMissingField)
	}
	if raw != "" {
		return &inboundMail{
			Recipients: recipients,
			Payload:    ingest.Payload{Source: ingest.SourceWebhook, Raw: []byte(raw)},
		}, nil
	}
	if strings.TrimSpace(fields.From) == "" {
		return nil, fmt.Errorf("%w: sender", domain.ErrMissingField)
	}
	return &inboundMail{
		Recipients: recipients,
		Payload:    ingest.Payload{Source: ingest.SourceWebhook, Fields: fields},
	}, nil
}

// splitRecipients 展开逗号分隔的列表，并去掉显示名
func splitRecipients(values ...string) []string {
	var out []string
	for _, v := range values {
		out = append(out, mailparse.ParseAddresses(v)...)
	}
	return out
}

func decodeJSON(c *gin.Context, v interface{}) error {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(MsgInvalidJSON)
	}
	return nil
}

func isMultipart(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == "multipart/form-data" || ct == "application/x-www-form-urlencoded"
}

// multipartForm 同时支持 multipart 与 urlencoded 表单
func multipartForm(c *gin.Context) (*multipart.Form, error) {
	if c.ContentType() == "application/x-www-form-urlencoded" {
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		return &multipart.Form{Value: c.Request.PostForm, File: map[string][]*multipart.FileHeader{}}, nil
	}
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		if middleware.IsBodyTooLarge(err) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	return c.Request.MultipartForm, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// formFiles 按字段顺序读取文件，match 为 nil 时读取所有文件字段
func formFiles(form *multipart.Form, match func(field string) bool) ([]mailparse.Part, error) {
	fieldNames := make([]string, 0, len(form.File))
	for name := range form.File {
		if match == nil || match(name) {
			fieldNames = append(fieldNames, name)
		}
	}
	// attachment-2 排在 attachment-10 之前
	sort.Slice(fieldNames, func(i, j int) bool {
		if len(fieldNames[i]) != len(fieldNames[j]) {
			return len(fieldNames[i]) < len(fieldNames[j])
		}
		return fieldNames[i] < fieldNames[j]
	})

	var parts []mailparse.Part
	for _, name := range fieldNames {
		for _, fh := range form.File[name] {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			parts = append(parts, mailparse.Part{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return parts, nil
}
