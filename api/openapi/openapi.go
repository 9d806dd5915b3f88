// Пакет openapi — контракты HTTP API trust-broker и trust-consumer.
// Спецификации встраиваются в бинарники: по ним проверяются входящие запросы,
// из них же сгенерированы пакеты internal/api/generated.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed broker.yaml
var brokerSpec []byte

//go:embed consumer.yaml
var consumerSpec []byte

// Broker загружает и проверяет спецификацию API trust-broker.
func Broker() (*openapi3.T, error) {
	return load("broker.yaml", brokerSpec)
}

// Consumer загружает и проверяет спецификацию API trust-consumer.
func Consumer() (*openapi3.T, error) {
	return load("consumer.yaml", consumerSpec)
}

func load(name string, data []byte) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("загрузка %s: %w", name, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("невалидная спецификация %s: %w", name, err)
	}
	return doc, nil
}
