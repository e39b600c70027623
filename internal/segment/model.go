package segment

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Status 翻译单元状态
type Status int

const (
	StatusPending    Status = iota // 待翻译
	StatusInBatch                  // 已分入批次
	StatusTranslated               // 翻译成功
	StatusFailed                   // 翻译失败，回退原文
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInBatch:
		return "in_batch"
	case StatusTranslated:
		return "translated"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusTranslated || s == StatusFailed
}

// AnchorKind 锚点类型
type AnchorKind int

const (
	AnchorStartTag    AnchorKind = iota // 起始标签
	AnchorEndTag                        // 结束标签
	AnchorSelfClosing                   // 自闭合标签
	AnchorText                          // 不翻译的文本（空白、代码等）
	AnchorComment                       // 注释、CDATA
	AnchorDoctype                       // DOCTYPE 与处理指令
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorStartTag:
		return "start"
	case AnchorEndTag:
		return "end"
	case AnchorSelfClosing:
		return "self_closing"
	case AnchorText:
		return "text"
	case AnchorComment:
		return "comment"
	case AnchorDoctype:
		return "doctype"
	default:
		return "unknown"
	}
}

// AttrSlot 锚点中可翻译属性值的位置
type AttrSlot struct {
	// Name 属性名（小写）
	Name string

	// Start/End 属性值在 Raw 中的字节区间，不含引号
	Start int
	End   int

	// Quote 原始引号，0 表示未加引号
	Quote byte

	// UnitID 对应的属性翻译单元
	UnitID int
}

// Anchor 不可翻译的结构片段，序列化时原样输出
type Anchor struct {
	// Index 在 Model.Nodes 中的位置
	Index int

	Kind AnchorKind

	// Tag 标签名（小写），非标签锚点为空
	Tag string

	// Raw 源文件中的原始字节
	Raw []byte

	// Depth 元素嵌套深度
	Depth int

	// Match 起始标签对应的结束标签下标（反之亦然），-1 表示没有
	Match int

	// Attrs 可翻译的属性值
	Attrs []AttrSlot
}

// Unit 可翻译单元
type Unit struct {
	// ID 文档内单调递增的编号，从 1 开始
	ID int

	// Text 原文（实体已解码）
	Text string

	// Raw 源文件中的原始字节，翻译失败时原样输出
	Raw []byte

	// Translation 译文（已补回首尾空白）
	Translation string

	// Hint 所在元素提示，如 "p"、"h1"、"img@alt"
	Hint string

	// Attr 属性名，非空表示属性单元
	Attr string

	Status   Status
	Attempts int
	Err      error
}

// Core 去除首尾空白后的原文，即实际发送的内容
func (u *Unit) Core() string {
	return strings.TrimFunc(u.Text, unicode.IsSpace)
}

// Leading 原文的前导空白
func (u *Unit) Leading() string {
	return u.Text[:len(u.Text)-len(strings.TrimLeftFunc(u.Text, unicode.IsSpace))]
}

// Trailing 原文的尾随空白
func (u *Unit) Trailing() string {
	return u.Text[len(strings.TrimRightFunc(u.Text, unicode.IsSpace)):]
}

// Blank 是否只包含空白
func (u *Unit) Blank() bool {
	return u.Core() == ""
}

// CharCount 发送内容的字符数
func (u *Unit) CharCount() int {
	return utf8.RuneCountInString(u.Core())
}

// IsAttribute 是否为属性单元
func (u *Unit) IsAttribute() bool {
	return u.Attr != ""
}

// Node 锚点或翻译单元，二者必居其一
type Node struct {
	Anchor *Anchor
	Unit   *Unit
}

// Ref 跨文档的单元引用
type Ref struct {
	Doc  int
	Unit int
}

// Key 批次内使用的唯一键
func (r Ref) Key() string {
	return fmt.Sprintf("%d:%d", r.Doc, r.Unit)
}

func (r Ref) String() string {
	return r.Key()
}

// Counts 单元状态统计
type Counts struct {
	Total      int
	Pending    int
	InBatch    int
	Translated int
	Failed     int
}

// Model 单个文档的分段模型
//
// Nodes 只在解析阶段追加，之后只有单元的状态和译文会变化，
// 所有变化都在 mu 保护下进行。
type Model struct {
	// Index 文档在本次运行中的编号
	Index int

	Path   string
	Source []byte
	Nodes  []Node

	// Structure 源文件的标签结构签名，用于重组后校验
	Structure []string

	units []*Unit
	mu    sync.Mutex
	done  bool
}

// NewModel 创建空模型
func NewModel(path string, source []byte) *Model {
	return &Model{
		Path:   path,
		Source: source,
	}
}

// AppendAnchor 追加锚点，返回其下标
func (m *Model) AppendAnchor(a *Anchor) int {
	a.Index = len(m.Nodes)
	m.Nodes = append(m.Nodes, Node{Anchor: a})
	return a.Index
}

// NewUnit 创建翻译单元但不放入 Nodes，用于属性单元
func (m *Model) NewUnit(text string, raw []byte, hint, attr string) *Unit {
	u := &Unit{
		ID:     len(m.units) + 1,
		Text:   text,
		Raw:    raw,
		Hint:   hint,
		Attr:   attr,
		Status: StatusPending,
	}
	m.units = append(m.units, u)
	return u
}

// AppendUnit 创建文本单元并追加到 Nodes
func (m *Model) AppendUnit(text string, raw []byte, hint string) *Unit {
	u := m.NewUnit(text, raw, hint, "")
	m.Nodes = append(m.Nodes, Node{Unit: u})
	return u
}

// Units 按编号顺序返回全部单元
func (m *Model) Units() []*Unit {
	out := make([]*Unit, len(m.units))
	copy(out, m.units)
	return out
}

// Unit 按编号查找单元
func (m *Model) Unit(id int) (*Unit, bool) {
	if id < 1 || id > len(m.units) {
		return nil, false
	}
	return m.units[id-1], true
}

// Ref 构造单元引用
func (m *Model) Ref(id int) Ref {
	return Ref{Doc: m.Index, Unit: id}
}

// Pending 返回所有待翻译单元的引用
func (m *Model) Pending() []*Unit {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Unit
	for _, u := range m.units {
		if u.Status == StatusPending {
			out = append(out, u)
		}
	}
	return out
}

// MarkInBatch 将待翻译单元标记为已分入批次
func (m *Model) MarkInBatch(ids ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if u, ok := m.Unit(id); ok && u.Status == StatusPending {
			u.Status = StatusInBatch
		}
	}
}

// Apply 合并译文，补回原文的首尾空白
func (m *Model) Apply(id int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.Unit(id)
	if !ok {
		return fmt.Errorf("%s: unknown unit %d", m.Path, id)
	}
	if u.Blank() {
		u.Translation = u.Text
	} else {
		u.Translation = u.Leading() + strings.TrimFunc(text, unicode.IsSpace) + u.Trailing()
	}
	u.Status = StatusTranslated
	u.Err = nil
	return nil
}

// Revert 将批次中缺失的单元退回待翻译，返回累计尝试次数
func (m *Model) Revert(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.Unit(id)
	if !ok {
		return 0
	}
	u.Attempts++
	if u.Status == StatusInBatch {
		u.Status = StatusPending
	}
	return u.Attempts
}

// Fail 标记单元失败，已翻译的单元保持不变
func (m *Model) Fail(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.Unit(id); ok && u.Status != StatusTranslated {
		u.Status = StatusFailed
		u.Err = err
	}
}

// FailRemaining 将所有未终结的单元标记失败，返回数量
func (m *Model) FailRemaining(err error) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, u := range m.units {
		if !u.Status.Terminal() {
			u.Status = StatusFailed
			u.Err = err
			n++
		}
	}
	return n
}

// Terminal 所有单元是否都已终结
func (m *Model) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalLocked()
}

func (m *Model) terminalLocked() bool {
	for _, u := range m.units {
		if !u.Status.Terminal() {
			return false
		}
	}
	return true
}

// CompleteOnce 在所有单元终结后第一次调用时返回 true
func (m *Model) CompleteOnce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done || !m.terminalLocked() {
		return false
	}
	m.done = true
	return true
}

// Counts 统计单元状态
func (m *Model) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Counts{Total: len(m.units)}
	for _, u := range m.units {
		switch u.Status {
		case StatusPending:
			c.Pending++
		case StatusInBatch:
			c.InBatch++
		case StatusTranslated:
			c.Translated++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// View 在锁内读取模型，用于序列化等需要一致快照的场景
func (m *Model) View(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
