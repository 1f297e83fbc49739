package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"KnowBase/pkg/xerr"
)

// Extractor 把源路径整理成可遍历的目录：目录原样使用，归档解包到
// 临时目录，单文件复制进临时目录构成单元素输入。归档目前仅支持 zip。
type Extractor struct {
	TempDir string
}

func NewExtractor(tempDir string) *Extractor {
	if strings.TrimSpace(tempDir) == "" {
		tempDir = os.TempDir()
	}
	return &Extractor{TempDir: tempDir}
}

// Supported 判断源文件能否被解包
func (e *Extractor) Supported(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// Resolve 把源路径整理为待遍历目录。temp 为 true 时目录归调用方清理。
func (e *Extractor) Resolve(sourcePath string) (dir string, temp bool, err error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", false, xerr.New(xerr.BadRequest, fmt.Sprintf("源文件不可读: %s", sourcePath))
	}
	if info.IsDir() {
		return sourcePath, false, nil
	}
	if e.Supported(sourcePath) {
		dir, err := e.Extract(sourcePath)
		return dir, err == nil, err
	}
	dir, err = e.wrapSingleFile(sourcePath)
	return dir, err == nil, err
}

// wrapSingleFile 把单文件复制进临时目录，避免误读上传目录里的同级文件
func (e *Extractor) wrapSingleFile(sourcePath string) (string, error) {
	if err := os.MkdirAll(e.TempDir, 0o755); err != nil {
		return "", err
	}
	destRoot, err := os.MkdirTemp(e.TempDir, "kb_source_")
	if err != nil {
		return "", err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		_ = os.RemoveAll(destRoot)
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(destRoot, filepath.Base(sourcePath)))
	if err != nil {
		_ = os.RemoveAll(destRoot)
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.RemoveAll(destRoot)
		return "", err
	}
	return destRoot, nil
}

// Extract 解包归档，返回解包根目录。调用方负责在处理结束后删除该目录。
func (e *Extractor) Extract(archivePath string) (string, error) {
	if !e.Supported(archivePath) {
		return "", xerr.New(xerr.BadRequest, fmt.Sprintf("不支持的源文件类型: %s", filepath.Ext(archivePath)))
	}

	if err := os.MkdirAll(e.TempDir, 0o755); err != nil {
		return "", err
	}
	destRoot, err := os.MkdirTemp(e.TempDir, "kb_extract_")
	if err != nil {
		return "", err
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		_ = os.RemoveAll(destRoot)
		return "", fmt.Errorf("打开归档失败: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractOne(destRoot, f); err != nil {
			_ = os.RemoveAll(destRoot)
			return "", err
		}
	}
	return destRoot, nil
}

func extractOne(destRoot string, f *zip.File) error {
	// 拒绝跳出解包根目录的条目（zip slip）
	target := filepath.Join(destRoot, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(destRoot)+string(os.PathSeparator)) {
		return fmt.Errorf("归档条目路径非法: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
