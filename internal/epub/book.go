package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	mimetypeName  = "mimetype"
	containerPath = "META-INF/container.xml"
	epubMimetype  = "application/epub+zip"
)

// ErrNotEPUB 输入不是 EPUB 容器
var ErrNotEPUB = errors.New("not an EPUB container")

// Entry 容器中的一个文件
type Entry struct {
	Name     string
	Data     []byte
	Method   uint16
	Modified time.Time
}

// Document 需要翻译的 XHTML 内容文件
type Document struct {
	// Path 容器内的完整路径
	Path    string
	Content []byte

	// InSpine 是否在 spine 中，不在 spine 中的如导航文件
	InSpine bool
}

// Metadata OPF 中的基本元数据
type Metadata struct {
	Title    string `xml:"title"`
	Language string `xml:"language"`
	Creator  string `xml:"creator"`
}

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata Metadata `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Book 内存中的 EPUB 容器，保留所有文件及其顺序
type Book struct {
	OPFPath  string
	Metadata Metadata

	entries []*Entry
	index   map[string]int
	docs    []string
	spine   map[string]bool
	logger  *zap.Logger
}

// Open 读取 EPUB 文件
func Open(path string, logger *zap.Logger) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read EPUB file: %w", err)
	}
	return Read(data, logger)
}

// Read 从内存解析 EPUB 容器
func Read(data []byte, logger *zap.Logger) (*Book, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}

	b := &Book{
		index:  make(map[string]int),
		spine:  make(map[string]bool),
		logger: logger,
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in EPUB: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s in EPUB: %w", f.Name, err)
		}
		b.index[f.Name] = len(b.entries)
		b.entries = append(b.entries, &Entry{Name: f.Name, Data: content, Method: f.Method, Modified: f.Modified})
	}

	if err := b.locateDocuments(); err != nil {
		return nil, err
	}

	logger.Debug("opened EPUB",
		zap.String("opf", b.OPFPath),
		zap.String("title", b.Metadata.Title),
		zap.Int("entries", len(b.entries)),
		zap.Int("documents", len(b.docs)))
	return b, nil
}

// locateDocuments 按 spine 顺序确定内容文件，其余 XHTML 文件排在后面
func (b *Book) locateDocuments() error {
	seen := make(map[string]bool)
	add := func(name string, inSpine bool) {
		if seen[name] {
			return
		}
		if _, ok := b.index[name]; !ok {
			return
		}
		seen[name] = true
		b.docs = append(b.docs, name)
		if inSpine {
			b.spine[name] = true
		}
	}

	opfPath, err := b.findOPF()
	if err != nil {
		b.logger.Warn("no package document found, translating all XHTML files", zap.Error(err))
	} else {
		b.OPFPath = opfPath
		pkg, err := b.parseOPF(opfPath)
		if err != nil {
			return err
		}
		b.Metadata = pkg.Metadata

		base := path.Dir(opfPath)
		manifest := make(map[string]manifestItem, len(pkg.Manifest.Items))
		for _, item := range pkg.Manifest.Items {
			manifest[item.ID] = item
		}
		for _, ref := range pkg.Spine.ItemRefs {
			item, ok := manifest[ref.IDRef]
			if !ok {
				b.logger.Warn("spine item not found in manifest", zap.String("idref", ref.IDRef))
				continue
			}
			if isHTML(item.MediaType, item.Href) {
				add(resolve(base, item.Href), true)
			}
		}
		for _, item := range pkg.Manifest.Items {
			if isHTML(item.MediaType, item.Href) {
				add(resolve(base, item.Href), false)
			}
		}
	}

	var rest []string
	for _, e := range b.entries {
		if !seen[e.Name] && isHTML("", e.Name) {
			rest = append(rest, e.Name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name, false)
	}
	return nil
}

func (b *Book) findOPF() (string, error) {
	if data, ok := b.File(containerPath); ok {
		var c container
		if err := xml.Unmarshal(data, &c); err != nil {
			return "", fmt.Errorf("failed to parse container.xml: %w", err)
		}
		for _, rf := range c.Rootfiles {
			if rf.FullPath == "" {
				continue
			}
			if _, ok := b.index[rf.FullPath]; ok {
				return rf.FullPath, nil
			}
		}
	}
	for _, e := range b.entries {
		if strings.EqualFold(path.Ext(e.Name), ".opf") {
			return e.Name, nil
		}
	}
	return "", errors.New("OPF file not found")
}

func (b *Book) parseOPF(name string) (*opfPackage, error) {
	data, _ := b.File(name)
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return &pkg, nil
}

// resolve 将 manifest 中相对于 OPF 的 href 转为容器路径
func resolve(base, href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	// manifest 中的 href 是 URL，容器路径是解码后的文件名
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	if base == "." || base == "" {
		return path.Clean(href)
	}
	return path.Join(base, href)
}

func isHTML(mediaType, name string) bool {
	if mediaType != "" {
		return strings.Contains(mediaType, "html")
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xhtml", ".html", ".htm":
		return true
	}
	return false
}

// File 按路径读取文件内容
func (b *Book) File(name string) ([]byte, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.entries[i].Data, true
}

// Entries 返回所有文件名，保持原有顺序
func (b *Book) Entries() []string {
	names := make([]string, len(b.entries))
	for i, e := range b.entries {
		names[i] = e.Name
	}
	return names
}

// Documents 返回需要翻译的内容文件，spine 中的文件在前
func (b *Book) Documents() []Document {
	out := make([]Document, 0, len(b.docs))
	for _, name := range b.docs {
		data, _ := b.File(name)
		out = append(out, Document{Path: name, Content: data, InSpine: b.spine[name]})
	}
	return out
}

// Replace 替换已有文件的内容
func (b *Book) Replace(name string, data []byte) error {
	i, ok := b.index[name]
	if !ok {
		return fmt.Errorf("file not found in EPUB: %s", name)
	}
	b.entries[i].Data = data
	return nil
}

// Write 输出 EPUB 容器：mimetype 位于首位且不压缩，其余文件按原顺序压缩
func (b *Book) Write(w io.Writer) error {
	zw := zip.NewWriter(w)

	mimetype := []byte(epubMimetype)
	if data, ok := b.File(mimetypeName); ok {
		mimetype = data
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: mimetypeName, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	if _, err := fw.Write(mimetype); err != nil {
		return fmt.Errorf("failed to write mimetype: %w", err)
	}

	for _, e := range b.entries {
		if e.Name == mimetypeName {
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: e.Modified})
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("failed to write file %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip: %w", err)
	}
	return nil
}

// Save 写入文件，先写临时文件再重命名
func (b *Book) Save(name string) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".epub-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := b.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	b.logger.Info("EPUB written", zap.String("path", name), zap.Int("entries", len(b.entries)))
	return nil
}
