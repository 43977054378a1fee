package gate

// urgencyKeywords のいずれかを含むニュースは分類器を呼ばずに緊急とみなす。
var urgencyKeywords = []string{
	// 重大事象
	"взрыв", "взрывы", "взорвался", "взорвались", "explosion", "explosions", "bomb", "bombs",
	"стрельба", "стреляют", "shooting", "gunfire", "attack", "attacks", "terrorist", "terrorism",
	"убийство", "убит", "убиты", "murder", "killed", "death", "deaths", "casualties",
	"авария", "катастрофа", "крушение", "crash", "accident", "disaster", "emergency",
	// 軍事
	"война", "war", "военные действия", "military action", "боевые действия", "combat",
	"нападение", "атака", "strike", "удар", "bombing", "бомбардировка",
	"вторжение", "invasion", "оккупация", "occupation", "блокада", "blockade",
	// 政治危機
	"переворот", "coup", "революция", "revolution", "мятеж", "rebellion", "восстание", "uprising",
	"отставка", "resignation", "импичмент", "impeachment", "арест", "arrest", "задержание",
	"санкции", "sanctions", "эмбарго", "embargo", "блокировка",
	// 自然災害
	"землетрясение", "earthquake", "цунами", "tsunami", "наводнение", "flood", "пожар", "fire",
	"ураган", "hurricane", "торнадо", "tornado", "извержение", "eruption",
	// 技術的な障害
	"кибератака", "cyberattack", "хакеры", "hackers", "утечка данных", "data breach",
	"отключение", "outage", "сбой", "failure", "кризис", "crisis",
	// 経済危機
	"крах", "обвал", "collapse", "дефолт", "default", "банкротство", "bankruptcy",
	"рецессия", "recession", "депрессия", "depression", "инфляция", "inflation",
	// 国際問題
	"дипломатический кризис", "diplomatic crisis", "конфликт", "conflict", "эскалация", "escalation",
	"угроза", "threat", "предупреждение", "warning", "опасность", "danger",
}

// timeKeywords のいずれも含まないニュースは分類器を呼ばずに新しいとみなす。
var timeKeywords = []string{
	"час", "часа", "часов", "hour", "hours", "минут", "минуты", "minute", "minutes",
	"сегодня", "today", "вчера", "yesterday", "завтра", "tomorrow",
	"утром", "morning", "днем", "afternoon", "вечером", "evening", "ночью", "night",
	"сейчас", "now", "только что", "just now", "недавно", "recently",
	"января", "февраля", "марта", "апреля", "мая", "июня", "июля", "августа",
	"сентября", "октября", "ноября", "декабря",
	"january", "february", "march", "april", "may", "june", "july", "august",
	"september", "october", "november", "december",
	"понедельник", "вторник", "среда", "четверг", "пятница", "суббота", "воскресенье",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12",
	"13", "14", "15", "16", "17", "18", "19", "20", "21", "22", "23", "24",
	"30", "45", "60", "90", "120", "180", "240", "300", "360", "480", "720", "1440",
}
