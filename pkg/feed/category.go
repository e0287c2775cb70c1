package feed

// Category は通知の種類を表す。取り得る値は固定の7種類のみ。
type Category string

const (
	// CategoryDonation は寄付の通知。
	CategoryDonation Category = "donation"
	// CategoryMember は新規会員の通知。
	CategoryMember Category = "member"
	// CategoryPrayer は祈りのリクエストの通知。
	CategoryPrayer Category = "prayer"
	// CategoryContact はお問い合わせの通知。
	CategoryContact Category = "contact"
	// CategoryVolunteer はボランティア登録の通知。
	CategoryVolunteer Category = "volunteer"
	// CategoryEvent はイベント作成の通知。
	CategoryEvent Category = "event"
	// CategorySermon は説教公開の通知。
	CategorySermon Category = "sermon"
)

// fallbackRoute は未知のカテゴリに対する遷移先。
const fallbackRoute = "/admin"

// Categories は全カテゴリを固定順で返す。
func Categories() []Category {
	return []Category{
		CategoryDonation,
		CategoryMember,
		CategoryPrayer,
		CategoryContact,
		CategoryVolunteer,
		CategoryEvent,
		CategorySermon,
	}
}

// Valid はカテゴリが固定集合に含まれるかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryDonation, CategoryMember, CategoryPrayer, CategoryContact,
		CategoryVolunteer, CategoryEvent, CategorySermon:
		return true
	}
	return false
}

// Title はカテゴリごとに固定の見出しを返す。
func (c Category) Title() string {
	switch c {
	case CategoryDonation:
		return "New Donation"
	case CategoryMember:
		return "New Member"
	case CategoryPrayer:
		return "New Prayer Request"
	case CategoryContact:
		return "New Contact Submission"
	case CategoryVolunteer:
		return "New Volunteer Signup"
	case CategoryEvent:
		return "New Event"
	case CategorySermon:
		return "New Sermon"
	}
	return "Notification"
}

// Icon はベルのドロップダウンで使うアイコン名を返す。
func (c Category) Icon() string {
	switch c {
	case CategoryDonation:
		return "dollar-sign"
	case CategoryMember:
		return "user-plus"
	case CategoryPrayer:
		return "heart"
	case CategoryContact:
		return "mail"
	case CategoryVolunteer:
		return "hand-helping"
	case CategoryEvent:
		return "calendar"
	case CategorySermon:
		return "book-open"
	}
	return "bell"
}

// Severity はトーストの表示種別を返す。
func (c Category) Severity() Severity {
	switch c {
	case CategoryDonation, CategoryMember, CategoryVolunteer:
		return SeveritySuccess
	}
	return SeverityInfo
}

// Route はカテゴリに対応する管理画面のパスを返す。
// 固定集合外のカテゴリには /admin を返す。
func (c Category) Route() string {
	switch c {
	case CategoryDonation:
		return "/admin/donations"
	case CategoryMember:
		return "/admin/members"
	case CategoryPrayer:
		return "/admin/prayer-requests"
	case CategoryContact:
		return "/admin/contact-submissions"
	case CategoryVolunteer:
		return "/admin/volunteers"
	case CategoryEvent:
		return "/admin/events"
	case CategorySermon:
		return "/admin/sermons"
	}
	return fallbackRoute
}

// ResolveTargetRoute は通知が選択されたときの遷移先を返す。
func ResolveTargetRoute(n Notification) string {
	return n.Category.Route()
}
