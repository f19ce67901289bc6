package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"servercheck/internal/model"
)

// EndpointFile 端点导入文件
//
//	groups:
//	  - name: 生产环境
//	    endpoints:
//	      - {name: 官网, type: http, host: example.com}
//	      - {name: 数据库, type: tcp, host: 10.0.0.5, port: 5432}
type EndpointFile struct {
	Groups []model.Group `yaml:"groups" json:"groups"`
}

// ParseEndpoints 解析 YAML（JSON 也是合法的 YAML）格式的端点列表
func ParseEndpoints(data []byte) ([]model.Group, error) {
	var file EndpointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析端点文件失败: %w", err)
	}
	if len(file.Groups) == 0 {
		return nil, fmt.Errorf("端点文件中 groups 不能为空")
	}

	for gi := range file.Groups {
		g := &file.Groups[gi]
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			g.Name = fmt.Sprintf("Group %d", gi+1)
		}
		for si := range g.Endpoints {
			ep := &g.Endpoints[si]
			ct, err := model.ParseCheckType(string(ep.Type))
			if err != nil {
				return nil, fmt.Errorf("分组 %s 第 %d 个端点: %w", g.Name, si+1, err)
			}
			ep.Type = ct
			ep.Host = strings.TrimSpace(ep.Host)
			if err := ep.Validate(); err != nil {
				return nil, fmt.Errorf("分组 %s 第 %d 个端点: %w", g.Name, si+1, err)
			}
		}
	}
	return file.Groups, nil
}

// LoadEndpointFile 从本地文件或 http(s) 地址加载端点列表
func LoadEndpointFile(src string) ([]model.Group, error) {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		data, err := FetchRemoteEndpoints(src)
		if err != nil {
			return nil, err
		}
		return ParseEndpoints(data)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("读取端点文件失败: %w", err)
	}
	return ParseEndpoints(data)
}
