// Package stream provides a DynamoDB Streams handler that feeds change
// hooks for writes that bypass the operation pipeline.
package stream

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/entity"
	"github.com/jacentio/arbor/key"
)

// ChangeFunc observes the pre-update and post-update images of one item.
type ChangeFunc func(ctx context.Context, before, after entity.Item) error

// Handler dispatches DynamoDB stream records to per-type change functions.
// It covers deployments where another writer updates arbor tables directly,
// so change detection still fires even though the pipeline never saw the
// write.
type Handler struct {
	hooks  map[string]ChangeFunc
	logger *slog.Logger
}

// NewHandler creates a stream handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hooks:  make(map[string]ChangeFunc),
		logger: logger,
	}
}

// OnChange registers fn for records whose entity_type matches.
func (h *Handler) OnChange(entityType string, fn ChangeFunc) {
	h.hooks[entityType] = fn
}

// HandleChange processes DynamoDB stream events, invoking the registered
// change function for every MODIFY record of a known entity type. This
// function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChange(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}

	entityType := stringAttr(record.Change.NewImage, "entity_type")
	fn, ok := h.hooks[entityType]
	if !ok {
		return nil
	}

	before := imageToItem(record.Change.OldImage)
	after := imageToItem(record.Change.NewImage)

	h.logger.Info("dispatching change",
		"entityType", entityType,
		"ref", stringAttr(record.Change.NewImage, "entity_ref"),
	)
	return fn(ctx, before, after)
}

func stringAttr(image map[string]events.DynamoDBAttributeValue, name string) string {
	av, ok := image[name]
	if !ok || av.DataType() != events.DataTypeString {
		return ""
	}
	return av.String()
}

// imageToItem converts a stream image into an entity item, applying the
// same cleanup the backend applies when reading the table.
func imageToItem(image map[string]events.DynamoDBAttributeValue) entity.Item {
	if image == nil {
		return nil
	}
	item := make(entity.Item, len(image))
	for name, av := range image {
		item[name] = attrValue(av)
	}
	path, _ := item["path"].(string)
	delete(item, "pk")
	delete(item, "sk")
	delete(item, "path")
	delete(item, "entity_ref")
	delete(item, "entity_type")
	if path != "" {
		item["locations"] = key.ParseChain(path)
	}
	return item
}

func attrValue(av events.DynamoDBAttributeValue) any {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String()
	case events.DataTypeNumber:
		if n, err := strconv.ParseInt(av.Number(), 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(av.Number(), 64); err == nil {
			return f
		}
		return av.Number()
	case events.DataTypeBoolean:
		return av.Boolean()
	case events.DataTypeNull:
		return nil
	case events.DataTypeMap:
		m := make(map[string]any, len(av.Map()))
		for k, v := range av.Map() {
			m[k] = attrValue(v)
		}
		return m
	case events.DataTypeList:
		l := make([]any, 0, len(av.List()))
		for _, v := range av.List() {
			l = append(l, attrValue(v))
		}
		return l
	case events.DataTypeStringSet:
		return av.StringSet()
	case events.DataTypeNumberSet:
		return av.NumberSet()
	default:
		return nil
	}
}
