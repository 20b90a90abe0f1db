package alert

import "fmt"

// expiryMessage renders the human-readable line for an expiry alert in the
// policy's locale.
func (p *Policy) expiryMessage(name, origin string, days int) string {
	if p.locale == "ko" {
		switch {
		case days < 0:
			return fmt.Sprintf("%s (%s) SSL 인증서가 %d일 전에 만료되었습니다.", name, origin, -days)
		case days == 0:
			return fmt.Sprintf("%s (%s) SSL 인증서가 오늘 만료됩니다!", name, origin)
		case days == 1:
			return fmt.Sprintf("%s (%s) SSL 인증서가 내일 만료됩니다!", name, origin)
		default:
			return fmt.Sprintf("%s (%s) SSL 인증서가 %d일 후 만료됩니다.", name, origin, days)
		}
	}

	switch {
	case days < 0:
		return fmt.Sprintf("SSL certificate for %s (%s) expired %d day(s) ago.", name, origin, -days)
	case days == 0:
		return fmt.Sprintf("SSL certificate for %s (%s) expires today!", name, origin)
	case days == 1:
		return fmt.Sprintf("SSL certificate for %s (%s) expires tomorrow!", name, origin)
	default:
		return fmt.Sprintf("SSL certificate for %s (%s) expires in %d days.", name, origin, days)
	}
}

// errorMessage renders the line for a certificate-error alert.
func (p *Policy) errorMessage(name, origin string) string {
	if p.locale == "ko" {
		return fmt.Sprintf("%s (%s) 웹사이트에서 SSL 인증서 오류가 발생했습니다.", name, origin)
	}
	return fmt.Sprintf("SSL certificate error detected on %s (%s).", name, origin)
}
