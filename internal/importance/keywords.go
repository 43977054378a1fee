package importance

import (
	"strings"

	"github.com/hitoshi/newsrelay/internal/config"
)

// KeywordSets は重要度判定に使うキーワード集合。各集合は小文字で保持する。
type KeywordSets struct {
	Critical     []string // 重大事象
	HotTopic     []string // 重点地域・話題
	HighPriority []string // 政治・経済・外交
	Entities     []string // 要人・機関・国
	Magnitude    []string // 規模を示す語
	Urgency      []string // 速報マーカー
	LowInterest  []string // 関心の低い話題
	Personal     []string // 私生活・家族
}

// DefaultKeywords は組み込みのロシア語・英語キーワード集合を返す。
func DefaultKeywords() KeywordSets {
	return KeywordSets{
		Critical: words(`
			россия|russia|российский|russian|рф|rf|путин|putin
			украина|ukraine|украинский|ukrainian|зеленский|zelensky
			донбасс|donbass|донецк|donetsk|луганск|luhansk|крым|crimea
			херсон|kherson|запорожье|zaporizhzhia|мариуполь|mariupol
			киев|kyiv|киевский|kiev|харьков|kharkiv|одесса|odessa
			специальная операция|special operation|сво|svo
			война|war|военные действия|military action|боевые действия|combat
			вторжение|invasion|атака|attack|удар|strike|бомбардировка|bombing
			взрыв|explosion|взрывы|explosions|терроризм|terrorism|террорист|terrorist
			переворот|coup|революция|revolution|импичмент|impeachment
			отставка|resignation|арест|arrest|задержание|detention
			санкции|sanctions|эмбарго|embargo|блокада|blockade
			землетрясение|earthquake|цунами|tsunami|наводнение|flood
			ураган|hurricane|торнадо|tornado|извержение|eruption
			пожар|fire|катастрофа|disaster|авария|accident
			крах|crash|обвал|collapse|дефолт|default
			банкротство|bankruptcy|рецессия|recession|кризис|crisis
			дипломатический кризис|diplomatic crisis|конфликт|conflict
			эскалация|escalation|угроза|threat|опасность|danger
			кибератака|cyberattack|хакеры|hackers|утечка данных|data breach
			отключение|outage|сбой|failure|взлом|hack`),
		HotTopic: words(`
			россия|russia|украина|ukraine|путин|putin|зеленский|zelensky
			донбасс|donbass|крым|crimea|специальная операция|special operation`),
		HighPriority: words(`
			президент|president|премьер|prime minister|министр|minister
			выборы|election|elections|голосование|voting|референдум|referendum
			парламент|parliament|конгресс|congress|сенат|senate
			инфляция|inflation|безработица|unemployment|валюта|currency
			нефть|oil|газ|gas|энергетика|energy|рынок|market
			нато|nato|оон|un|united nations|евросоюз|eu|european union
			саммит|summit|переговоры|negotiations|дипломатия|diplomacy
			протесты|protests|митинги|rallies|демонстрации|demonstrations
			забастовка|strike|бунт|riot|беспорядки|unrest`),
		Entities: words(`
			путин|putin|зеленский|zelenskyy|zelensky|байден|biden
			трамп|trump|си цзиньпин|xi jinping|макрон|macron
			шольц|scholz|сунак|sunak|лукашенко|lukashenko
			кремль|kremlin|белый дом|white house|пентагон|pentagon
			фсб|fsb|цру|cia|фбр|fbi|нса|nsa
			европарламент|european parliament|бундестаг|bundestag
			украина|ukraine|россия|russia|сша|usa|us|america
			китай|china|европа|europe|нато|nato|ес|eu`),
		Magnitude: words(`
			миллион|million|миллиард|billion|тысяча|thousand
			процент|percent|%|доллар|dollar|евро|euro
			рубль|ruble|юань|yuan`),
		Urgency: words(`breaking|urgent|срочно|экстренно`),
		LowInterest: words(`
			family|семья|wife|жена|husband|муж|son|сын|daughter|дочь
			mother|мать|father|отец|brother|брат|sister|сестра
			wedding|свадьба|divorce|развод|marriage|брак
			celebrity|знаменитость|actor|актер|actress|актриса|singer|певец
			movie|фильм|tv show|телешоу|reality show|реалити-шоу
			oscar|оскар|grammy|грэмми|award|награда
			basketball|баскетбол|football|футбол|baseball|бейсбол|hockey|хоккей
			nfl|nba|mlb|nhl|playoff|плей-офф|championship|чемпионат
			local|местный|city council|городской совет|mayor|мэр|governor|губернатор
			state|штат|county|округ|district|район
			robbery|ограбление|theft|кража|vandalism|вандализм
			suspect|подозреваемый|wanted|разыскивается`),
		Personal: words(`family|семья|wedding|свадьба|divorce|развод|anniversary|годовщина`),
	}
}

// WithOverrides は設定ファイルで指定された集合だけを置き換えた KeywordSets を返す。
func (k KeywordSets) WithOverrides(o config.ImportanceKeywords) KeywordSets {
	replace := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = normalizeList(src)
		}
	}
	replace(&k.Critical, o.Critical)
	replace(&k.HotTopic, o.HotTopic)
	replace(&k.HighPriority, o.HighPriority)
	replace(&k.Entities, o.Entities)
	replace(&k.Magnitude, o.Magnitude)
	replace(&k.Urgency, o.Urgency)
	replace(&k.LowInterest, o.LowInterest)
	replace(&k.Personal, o.Personal)
	return k
}

// words は改行または "|" で区切られたキーワードの一覧を解析する。
func words(list string) []string {
	return normalizeList(strings.FieldsFunc(list, func(r rune) bool {
		return r == '|' || r == '\n'
	}))
}

// normalizeList は小文字化と重複除去を行う。
func normalizeList(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, w := range list {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
