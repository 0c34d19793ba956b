// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"kidsafe-go/internal/config"
	"kidsafe-go/internal/model"
	"kidsafe-go/pkg/log"
)

var ESClient *elasticsearch.Client

// messageMapping 聊天消息索引结构，created_at 与 model.LocalTime 的格式一致。
const messageMapping = `{
	"mappings": {
		"properties": {
			"doc_id": { "type": "keyword" },
			"message_id": { "type": "long" },
			"session_id": { "type": "keyword" },
			"child_id": { "type": "keyword" },
			"parent_id": { "type": "keyword" },
			"role": { "type": "keyword" },
			"content": { "type": "text" },
			"blocked": { "type": "boolean" },
			"block_reason": { "type": "text" },
			"created_at": { "type": "date", "format": "yyyy-MM-dd HH:mm:ss" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(context.Background(), client, esCfg.IndexName)
}

// NewClient 按配置创建客户端，多个地址以逗号分隔。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(messageMapping)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// MessageIndex 聊天消息的索引与检索。
type MessageIndex struct {
	client    *elasticsearch.Client
	indexName string
}

func NewMessageIndex(client *elasticsearch.Client, indexName string) *MessageIndex {
	return &MessageIndex{client: client, indexName: indexName}
}

// IndexMessages 以消息 ID 为文档 ID 批量写入，重复写入会覆盖同一文档。
func (i *MessageIndex) IndexMessages(ctx context.Context, docs []model.MessageDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": i.indexName, "_id": doc.DocID}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return err
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引消息到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index messages")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("some messages failed to index")
	}
	return nil
}

// SearchMessages 在某个孩子的消息中全文检索，按时间倒序返回。
func (i *MessageIndex) SearchMessages(ctx context.Context, childID, query string, size int) ([]model.MessageSearchHit, error) {
	esQuery := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{"content": query},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"child_id": childID},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, err
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(&buf),
		i.client.Search.WithTrackTotalHits(false),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 检索返回错误: %s", res.String())
		return nil, errors.New("elasticsearch search failed")
	}

	var esResp struct {
		Hits struct {
			Hits []struct {
				Score  *float64              `json:"_score"`
				Source model.MessageDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]model.MessageSearchHit, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		hit := model.MessageSearchHit{
			MessageID:   h.Source.MessageID,
			SessionID:   h.Source.SessionID,
			Role:        h.Source.Role,
			Content:     h.Source.Content,
			Blocked:     h.Source.Blocked,
			BlockReason: h.Source.BlockReason,
			CreatedAt:   h.Source.CreatedAt.String(),
		}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
