// Package parser maps HTTP message heads onto shape-core AST nodes.
//
// The server uses the AST for request inspection: the CLI's inspect command
// prints it as JSON, and debug logging dumps received heads through it.
//
// A request head becomes:
//
//	{ "type": "request", "method": "POST", "target": "/api",
//	  "version": "HTTP/1.1",
//	  "headers": [{"key": "Host", "value": "example.com"}, ...] }
//
// A response becomes:
//
//	{ "type": "response", "version": "HTTP/1.1", "statusCode": 200,
//	  "reason": "OK",
//	  "headers": [{"key": "Content-Type", "value": "text/plain"}, ...],
//	  "body": "..." }
package parser

import (
	"bytes"
	"fmt"

	"github.com/shapestone/shape-core/pkg/ast"

	"github.com/shapestone/shape-httpd/internal/fastparser"
)

var zeroPos = ast.Position{}

// Redactor rewrites a header value before it is placed in the AST. It may
// return the value unchanged.
type Redactor func(key, value string) string

// Parse parses data as a request head, or as a full response when it
// starts with "HTTP/".
func Parse(data []byte) (ast.SchemaNode, error) {
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		resp, err := fastparser.ParseResponse(data)
		if err != nil {
			return nil, err
		}
		return ResponseToNode(resp, nil), nil
	}
	head, err := fastparser.ParseRequestHead(data)
	if err != nil {
		return nil, err
	}
	return HeadToNode(head, nil), nil
}

// HeadToNode converts a request head. A nil redact keeps values as-is.
func HeadToNode(head *fastparser.Head, redact Redactor) ast.SchemaNode {
	return ast.NewObjectNode(map[string]ast.SchemaNode{
		"type":    ast.NewLiteralNode("request", zeroPos),
		"method":  ast.NewLiteralNode(head.Method, zeroPos),
		"target":  ast.NewLiteralNode(head.Target, zeroPos),
		"version": ast.NewLiteralNode(head.Version, zeroPos),
		"headers": headersToNode(head.Headers, redact),
	}, zeroPos)
}

// ResponseToNode converts a parsed response.
func ResponseToNode(resp *fastparser.Response, redact Redactor) ast.SchemaNode {
	props := map[string]ast.SchemaNode{
		"type":       ast.NewLiteralNode("response", zeroPos),
		"version":    ast.NewLiteralNode(resp.Version, zeroPos),
		"statusCode": ast.NewLiteralNode(int64(resp.StatusCode), zeroPos),
		"reason":     ast.NewLiteralNode(resp.Reason, zeroPos),
		"headers":    headersToNode(resp.Headers, redact),
	}
	if resp.Body != nil {
		props["body"] = ast.NewLiteralNode(string(resp.Body), zeroPos)
	}
	return ast.NewObjectNode(props, zeroPos)
}

func headersToNode(headers []fastparser.Header, redact Redactor) ast.SchemaNode {
	elements := make([]ast.SchemaNode, len(headers))
	for i, h := range headers {
		v := h.Value
		if redact != nil {
			v = redact(h.Key, v)
		}
		elements[i] = ast.NewObjectNode(map[string]ast.SchemaNode{
			"key":   ast.NewLiteralNode(h.Key, zeroPos),
			"value": ast.NewLiteralNode(v, zeroPos),
		}, zeroPos)
	}
	return ast.NewArrayDataNode(elements, zeroPos)
}

// NodeToHead converts an AST ObjectNode back to a request head.
func NodeToHead(node ast.SchemaNode) (*fastparser.Head, error) {
	obj, ok := node.(*ast.ObjectNode)
	if !ok {
		return nil, fmt.Errorf("expected ObjectNode, got %T", node)
	}
	props := obj.Properties()
	if kind := stringProp(props, "type"); kind != "request" {
		return nil, fmt.Errorf("expected request node, got type %q", kind)
	}
	head := &fastparser.Head{
		Method:  stringProp(props, "method"),
		Target:  stringProp(props, "target"),
		Version: stringProp(props, "version"),
	}
	if v, ok := props["headers"]; ok {
		headers, err := nodeToHeaders(v)
		if err != nil {
			return nil, err
		}
		head.Headers = headers
	}
	return head, nil
}

func stringProp(props map[string]ast.SchemaNode, key string) string {
	if lit, ok := props[key].(*ast.LiteralNode); ok {
		s, _ := lit.Value().(string)
		return s
	}
	return ""
}

func nodeToHeaders(node ast.SchemaNode) ([]fastparser.Header, error) {
	arr, ok := node.(*ast.ArrayDataNode)
	if !ok {
		return nil, fmt.Errorf("expected ArrayDataNode for headers, got %T", node)
	}
	elements := arr.Elements()
	headers := make([]fastparser.Header, 0, len(elements))
	for i, elem := range elements {
		obj, ok := elem.(*ast.ObjectNode)
		if !ok {
			return nil, fmt.Errorf("header %d: expected ObjectNode, got %T", i, elem)
		}
		props := obj.Properties()
		headers = append(headers, fastparser.Header{
			Key:   stringProp(props, "key"),
			Value: stringProp(props, "value"),
		})
	}
	return headers, nil
}

// ToInterface converts an AST node into plain Go values (maps, slices and
// literals) suitable for encoding/json.
func ToInterface(node ast.SchemaNode) any {
	switch n := node.(type) {
	case *ast.LiteralNode:
		return n.Value()
	case *ast.ArrayDataNode:
		elements := n.Elements()
		arr := make([]any, len(elements))
		for i, elem := range elements {
			arr[i] = ToInterface(elem)
		}
		return arr
	case *ast.ObjectNode:
		props := n.Properties()
		m := make(map[string]any, len(props))
		for k, v := range props {
			m[k] = ToInterface(v)
		}
		return m
	default:
		return nil
	}
}
