// Package i18n holds the user-facing fallback messages shown when the server
// does not provide one, in Vietnamese and English.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	MsgGeneric          = "error.generic"
	MsgNetwork          = "error.network"
	MsgUnauthorized     = "error.unauthorized"
	MsgForbidden        = "error.forbidden"
	MsgNotFound         = "error.not_found"
	MsgConflict         = "error.conflict"
	MsgValidation       = "error.validation"
	MsgQuotationExpired = "error.quotation_expired"
	MsgPartialStep      = "error.partial_step"
	MsgCapacityFault    = "error.capacity_fault"
)

var entries = map[string]map[language.Tag]string{
	MsgGeneric: {
		language.English:    "Something went wrong. Please try again.",
		language.Vietnamese: "Đã xảy ra lỗi. Vui lòng thử lại.",
	},
	MsgNetwork: {
		language.English:    "Cannot reach the server. Check your connection.",
		language.Vietnamese: "Không thể kết nối máy chủ. Vui lòng kiểm tra kết nối.",
	},
	MsgUnauthorized: {
		language.English:    "Your session has expired. Please sign in again.",
		language.Vietnamese: "Phiên đăng nhập đã hết hạn. Vui lòng đăng nhập lại.",
	},
	MsgForbidden: {
		language.English:    "You are not allowed to perform this action.",
		language.Vietnamese: "Bạn không có quyền thực hiện thao tác này.",
	},
	MsgNotFound: {
		language.English:    "The requested record no longer exists.",
		language.Vietnamese: "Không tìm thấy dữ liệu yêu cầu.",
	},
	MsgConflict: {
		language.English:    "The record was changed by someone else. Reload to see its current state.",
		language.Vietnamese: "Dữ liệu đã được thay đổi. Vui lòng tải lại để xem trạng thái mới nhất.",
	},
	MsgValidation: {
		language.English:    "Some fields are invalid.",
		language.Vietnamese: "Một số trường không hợp lệ.",
	},
	MsgQuotationExpired: {
		language.English:    "The response window for this quotation has expired.",
		language.Vietnamese: "Báo giá đã hết thời hạn phản hồi.",
	},
	MsgPartialStep: {
		language.English:    "Step %q completed but %q failed. The request is waiting for %q.",
		language.Vietnamese: "Bước %q đã hoàn tất nhưng bước %q thất bại. Yêu cầu đang chờ bước %q.",
	},
	MsgCapacityFault: {
		language.English:    "Capacity could not be checked right now. This is not a capacity verdict.",
		language.Vietnamese: "Không thể kiểm tra năng lực lúc này. Đây không phải kết quả thiếu năng lực.",
	},
}

// English comes first so it is the matcher's default.
var supported = []language.Tag{language.English, language.Vietnamese}

var (
	builder = newCatalog()
	matcher = language.NewMatcher(supported)
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, byLang := range entries {
		for tag, msg := range byLang {
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// Printer returns a printer for the best match of an Accept-Language style string.
func Printer(lang string) *message.Printer {
	_, idx := language.MatchStrings(matcher, lang)
	return message.NewPrinter(supported[idx], message.Catalog(builder))
}

// Text renders key in lang, formatting args when the message has verbs.
func Text(lang, key string, args ...any) string {
	return Printer(lang).Sprintf(key, args...)
}
