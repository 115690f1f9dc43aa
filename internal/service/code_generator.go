package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrCodesExhausted возвращается, когда за maxAttempts попыток не нашлось
// свободного кода. Вызывающий решает: удлинить код или отдать ошибку.
var ErrCodesExhausted = errors.New("could not generate a unique code within attempt limit")

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeExistsFunc предикат уникальности, который генератору передаёт store
type CodeExistsFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator подбирает случайные короткие коды. Его цикл повторных
// попыток - лишь префильтр: настоящую защиту от гонок даёт атомарная
// вставка кода в store.
type CodeGenerator struct {
	exists CodeExistsFunc
}

func NewCodeGenerator(exists CodeExistsFunc) *CodeGenerator {
	return &CodeGenerator{exists: exists}
}

// Generate возвращает свободный код длины length не более чем за
// maxAttempts случайных выборок, иначе ErrCodesExhausted.
func (g *CodeGenerator) Generate(ctx context.Context, length, maxAttempts int) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := randomCode(length)
		if err != nil {
			return "", fmt.Errorf("failed to draw random code: %w", err)
		}

		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", ErrCodesExhausted
}

// randomCode генерирует случайную строку из алфавитно-цифрового алфавита
func randomCode(length int) (string, error) {
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}
	return string(result), nil
}
