package httpd

import (
	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/internal/parser"
	"github.com/shapestone/shape-httpd/pkg/logger"
)

// dumpHead logs the request head as its AST with sensitive header values
// redacted.
func (c *conn) dumpHead(head *fastparser.Head) {
	if !c.srv.opts.DebugHeads || !c.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	node := parser.HeadToNode(head, logger.RedactHeader)
	c.log.Debug("request_head_dump", zap.Any("head", parser.ToInterface(node)))
}

// diagnoseHead logs what a lenient read of a rejected head found wrong
// with it.
func (c *conn) diagnoseHead(head []byte) {
	if !c.srv.opts.DebugHeads || len(head) == 0 || !c.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	d := fastparser.Diagnose(head)
	fields := []zap.Field{zap.Strings("warnings", d.Warnings), zap.Bool("partial", d.Partial)}
	if d.Head != nil {
		node := parser.HeadToNode(d.Head, logger.RedactHeader)
		fields = append(fields, zap.Any("head", parser.ToInterface(node)))
	}
	c.log.Debug("request_head_diagnosis", fields...)
}
