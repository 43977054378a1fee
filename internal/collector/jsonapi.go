package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const acceptJSON = "application/json"

// getJSON はURLを取得してJSONとしてデコードする。Accept の指定がなければ application/json を送る。
func (f *httpFetcher) getJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", acceptJSON)
	}

	resp, err := f.getWithHeader(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("JSONのパースに失敗: %w", err)
	}
	return nil
}

// unixTime はUNIX秒を時刻に変換する。0以下は未設定として nil を返す。
func unixTime(sec float64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(int64(sec), 0).UTC()
	return &t
}

// rfc3339Time はRFC 3339の文字列を時刻に変換する。解析できない場合は nil を返す。
func rfc3339Time(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func tagOr(tag, fallback string) string {
	if tag != "" {
		return tag
	}
	return fallback
}
