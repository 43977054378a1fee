// Package dedup は語彙の重なりに基づいて同じ話題のニュースを検出する。
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/newsrelay/internal/model"
)

// minTitleRunes 未満のタイトルは判定に十分な情報がないため、重複として扱わない。
const minTitleRunes = 5

// Config は重複判定の設定。
type Config struct {
	Enabled       bool
	Threshold     float64
	TitleWeight   float64
	ContentWeight float64
}

// DefaultConfig はデフォルトの重複判定設定を返す。
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Threshold:     0.7,
		TitleWeight:   0.6,
		ContentWeight: 0.4,
	}
}

// Stats は重複判定の統計。
type Stats struct {
	RememberedHashes int     `json:"remembered_hashes"`
	Checked          int64   `json:"checked"`
	Duplicates       int64   `json:"duplicates"`
	Threshold        float64 `json:"threshold"`
}

// Deduplicator はバッチ内および過去のバッチとの重複を判定する。
// 残したItemのハッシュをインスタンスの生存期間中保持し、完全一致を高速に判定する。
// 収集タスクと投稿タスクから並行に呼ばれる。
type Deduplicator struct {
	logger *slog.Logger

	mu         sync.Mutex
	cfg        Config
	hashes     map[string]struct{}
	checked    int64
	duplicates int64
}

// New は新しいDeduplicatorを生成する。
func New(cfg Config, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		cfg:    cfg,
		logger: logger,
		hashes: make(map[string]struct{}),
	}
}

type prepared struct {
	title   text
	summary text
}

// FindDuplicates はバッチ内の各Itemの判定結果を入力と同じ順序で返す。
// Score は他のすべてのItemとの最大類似度。重複と判定されるのは、
// 先に残すと決まったItemとの類似度が閾値以上の場合か、記憶済みハッシュに一致した場合のみ。
// このため同じ話題の中で最初のItemは必ず残る。
func (d *Deduplicator) FindDuplicates(items []model.Item) []model.SimilarityResult {
	results := make([]model.SimilarityResult, len(items))
	if len(items) == 0 {
		return results
	}

	cfg := d.Config()
	prep := make([]prepared, len(items))
	for i, it := range items {
		prep[i] = prepared{title: prepare(it.Title), summary: prepare(it.Summary)}
	}

	// 類似度は対称なので上三角だけ計算する
	n := len(items)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if items[i].Title == "" || items[j].Title == "" {
				continue
			}
			s := itemSimilarity(cfg, prep[i], prep[j], items[i], items[j])
			sims[i][j] = s
			sims[j][i] = s
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	kept := make([]int, 0, n)
	for i, it := range items {
		d.checked++

		if utf8.RuneCountInString(strings.TrimSpace(it.Title)) < minTitleRunes {
			results[i] = model.SimilarityResult{Score: 0, IsDuplicate: false, Reason: "タイトルが短すぎる"}
			continue
		}

		hash := contentHash(it)
		if _, seen := d.hashes[hash]; seen && hash != "" {
			results[i] = model.SimilarityResult{Score: 1, IsDuplicate: true, Reason: "ハッシュが一致する完全な重複"}
			d.duplicates++
			continue
		}

		maxScore := 0.0
		for j := range items {
			if j != i && sims[i][j] > maxScore {
				maxScore = sims[i][j]
			}
		}

		match := -1
		for _, k := range kept {
			if sims[i][k] >= cfg.Threshold && (match < 0 || sims[i][k] > sims[i][match]) {
				match = k
			}
		}

		if match >= 0 {
			results[i] = model.SimilarityResult{
				Score:       maxScore,
				IsDuplicate: true,
				Reason:      fmt.Sprintf("'%s' と類似（類似度: %.2f）", truncate(items[match].Title, 50), sims[i][match]),
			}
			d.duplicates++
			continue
		}

		results[i] = model.SimilarityResult{
			Score:  maxScore,
			Reason: fmt.Sprintf("重複なし（最大類似度: %.2f）", maxScore),
		}
		kept = append(kept, i)
		if hash != "" {
			d.hashes[hash] = struct{}{}
		}
	}

	return results
}

// FilterDuplicates はバッチを重複しないItemと重複したItemに分ける。入力の順序は保たれる。
// 無効化されている場合は入力をそのまま返す。
func (d *Deduplicator) FilterDuplicates(items []model.Item) (unique, duplicates []model.Item) {
	if !d.Config().Enabled || len(items) == 0 {
		return items, nil
	}

	results := d.FindDuplicates(items)
	unique = make([]model.Item, 0, len(items))
	for i, it := range items {
		if results[i].IsDuplicate {
			duplicates = append(duplicates, it)
			d.logger.Debug("重複ニュースを除外しました",
				slog.String("title", truncate(it.Title, 80)),
				slog.String("source", it.Source),
				slog.String("reason", results[i].Reason),
			)
			continue
		}
		unique = append(unique, it)
	}

	d.logger.Info("重複判定が完了しました",
		slog.Int("total", len(items)),
		slog.Int("unique", len(unique)),
		slog.Int("duplicates", len(duplicates)),
	)
	return unique, duplicates
}

// ItemSimilarity は2つのItemの類似度を返す。
// どちらかの本文が空の場合はタイトルの類似度のみを使う。
func (d *Deduplicator) ItemSimilarity(a, b model.Item) float64 {
	pa := prepared{title: prepare(a.Title), summary: prepare(a.Summary)}
	pb := prepared{title: prepare(b.Title), summary: prepare(b.Summary)}
	return itemSimilarity(d.Config(), pa, pb, a, b)
}

func itemSimilarity(cfg Config, pa, pb prepared, a, b model.Item) float64 {
	titleSim := similarity(pa.title, pb.title)
	if strings.TrimSpace(a.Summary) == "" || strings.TrimSpace(b.Summary) == "" {
		return titleSim
	}
	return cfg.TitleWeight*titleSim + cfg.ContentWeight*similarity(pa.summary, pb.summary)
}

// Config は現在の設定を返す。
func (d *Deduplicator) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig は設定を差し替える。記憶済みのハッシュは保持する。
func (d *Deduplicator) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Forget は指定したItemのハッシュを忘れ、以降のサイクルで再び候補にできるようにする。
func (d *Deduplicator) Forget(items ...model.Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range items {
		delete(d.hashes, contentHash(it))
	}
}

// Stats は現在の統計を返す。
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		RememberedHashes: len(d.hashes),
		Checked:          d.checked,
		Duplicates:       d.duplicates,
		Threshold:        d.cfg.Threshold,
	}
}

// contentHash はタイトルと本文の重要語をソートして連結したもののMD5先頭12桁を返す。
// 重要語がない場合は空文字を返す。
func contentHash(it model.Item) string {
	phrases := keyPhrasesOf(normalize(normalize(it.Title) + " " + normalize(it.Summary)))
	if len(phrases) == 0 {
		return ""
	}
	sort.Strings(phrases)
	sum := md5.Sum([]byte(strings.Join(phrases, " ")))
	return hex.EncodeToString(sum[:])[:12]
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
