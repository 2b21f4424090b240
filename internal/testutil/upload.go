package testutil

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

// UploadRequest builds a multipart POST with the given form fields and a
// document in the "file" field. An empty filename omits the file part.
func UploadRequest(t *testing.T, target, token string, fields map[string]string, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write form field %s: %v", k, err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// SampleBank is a small question bank in the layout the rule extractor
// understands.
const SampleBank = `1. TCP 属于 OSI 模型的哪一层？
A. 网络层
B. 传输层
C. 会话层
D. 应用层
答案：B
解析：TCP 是传输层协议。

2. 以下哪些是私有地址段？
A. 10.0.0.0/8 B. 172.16.0.0/12 C. 8.8.8.0/24
答案：AB

3. UDP 是面向连接的协议。
答案：错误
`
