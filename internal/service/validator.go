package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/models"
)

// CheckResult классификация одной проверки доступности
type CheckResult struct {
	Status models.LinkStatus
	Reason string
}

// LinkValidator выполняет одну ограниченную по времени сетевую проверку URL.
// Любой исход превращается в трёхзначную классификацию, ошибки наружу не
// поднимаются.
type LinkValidator interface {
	Check(ctx context.Context, targetURL string) CheckResult
}

type httpValidator struct {
	client  *http.Client
	timeout time.Duration
}

func NewLinkValidator(timeout time.Duration) LinkValidator {
	return &httpValidator{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

func (v *httpValidator) Check(ctx context.Context, targetURL string) CheckResult {
	// Некорректный URL - не подтверждённая "мёртвая" ссылка, а неизвестность
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return CheckResult{
			Status: models.StatusUnknown,
			Reason: "Malformed URL. Check URL characters.",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return CheckResult{
			Status: models.StatusUnknown,
			Reason: "Malformed URL. Check URL characters.",
		}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return classifyTransportError(err, v.timeout)
	}
	defer resp.Body.Close()

	// Клиент сам идёт по редиректам, здесь уже финальный статус
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return CheckResult{Status: models.StatusValid}
	}

	return CheckResult{
		Status: models.StatusInvalid,
		Reason: fmt.Sprintf("URL not accessible (status %d).", resp.StatusCode),
	}
}

// classifyTransportError разделяет подтверждённые отказы (таймаут, DNS,
// connection refused) и неоднозначные транспортные сбои
func classifyTransportError(err error, timeout time.Duration) CheckResult {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return CheckResult{
			Status: models.StatusInvalid,
			Reason: fmt.Sprintf("Timeout after %d seconds.", int(timeout.Seconds())),
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CheckResult{
			Status: models.StatusInvalid,
			Reason: "Not found.",
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CheckResult{
			Status: models.StatusInvalid,
			Reason: "Connection refused.",
		}
	}

	return CheckResult{
		Status: models.StatusUnknown,
		Reason: "URL not accessible.",
	}
}
