package telemetry

import "go.opentelemetry.io/otel/attribute"

func attrOp(op string) attribute.KeyValue     { return attribute.String("op", op) }
func attrKind(kind string) attribute.KeyValue { return attribute.String("kind", kind) }
func attrIndex(name string) attribute.KeyValue { return attribute.String("index", name) }
