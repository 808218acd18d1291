package prompts

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Built-in prompts used when the YAML files are missing or unreadable, so the
// pipeline keeps working on a bare deployment.
const (
	fallbackPrimary = `Ты анализируешь расшифровку звонка клиента на радиостанцию такси.
Определи тип звонка и результат. Ответ верни текстом с тегами:
[ТИПЗВОНКА:ЦЕЛЕВОЙ] или [ТИПЗВОНКА:НЕЦЕЛЕВОЙ]
[РЕЗУЛЬТАТ:ПЕРЕВОД] если оператор обещал перевод на другую станцию
[РЕЗУЛЬТАТ:ПЕРЕЗВОНИТЬ] если клиенту обещали перезвонить`

	fallbackTransfer = `Определи детали обещанного перевода. Верни теги:
[ПЕРЕВОД:СТАНЦИЯ=<код станции или НЕИЗВЕСТНО>]
[ПЕРЕВОД:УСЛОВИЯ=<ЧАС или условие словами>]`

	fallbackTransferFollowup = `Это повторный звонок по кейсу перевода. Определи итог:
[ПЕРЕВОД:ПЕРЕВОД] если снова обещан перевод
[ПЕРЕВОД:СТАНЦИЯ=<код>] [ПЕРЕВОД:УСЛОВИЯ=<условие>]`

	fallbackRecall = `Определи детали обещанного перезвона. Верни теги:
[ПЕРЕЗВОНИТЬ:ЧАС] если перезвонят в течение часа
[ПЕРЕЗВОНИТЬ:КОГДА=<фраза времени>] если назван другой срок`

	fallbackRecallFollowup = `Это повторный звонок по кейсу перезвона. Определи итог:
[ПЕРЕЗВОНИТЬ:СВЯЗАЛИСЬ] если с клиентом связались
[ПЕРЕЗВОНИТЬ:КОГДА=<фраза времени>] если назначен новый срок`
)

// Paths names the YAML prompt files.
type Paths struct {
	Stations string
	Transfer string
	Recall   string
	Vocab    string
}

// Set holds the loaded prompt texts.
type Set struct {
	defaultPrimary   string
	stationPrimary   map[string]string
	Transfer         string
	TransferFollowup string
	Recall           string
	RecallFollowup   string
	Vocab            []string
}

type stationsFile struct {
	Default  string            `yaml:"default"`
	Stations map[string]string `yaml:"stations"`
}

type workflowFile struct {
	Primary  string `yaml:"primary"`
	Followup string `yaml:"followup"`
}

type vocabFile struct {
	Vocab []string `yaml:"vocab"`
}

// Load reads the prompt files. Missing files fall back to the built-in
// prompts; a present but broken file is logged and also falls back.
func Load(paths Paths, log *logrus.Logger) *Set {
	s := &Set{
		defaultPrimary:   fallbackPrimary,
		stationPrimary:   map[string]string{},
		Transfer:         fallbackTransfer,
		TransferFollowup: fallbackTransferFollowup,
		Recall:           fallbackRecall,
		RecallFollowup:   fallbackRecallFollowup,
	}
	entry := log.WithField("component", "prompts")

	var st stationsFile
	if readYAML(paths.Stations, &st, entry) {
		if st.Default != "" {
			s.defaultPrimary = st.Default
		}
		for code, prompt := range st.Stations {
			if prompt != "" {
				s.stationPrimary[code] = prompt
			}
		}
	}

	var tf workflowFile
	if readYAML(paths.Transfer, &tf, entry) {
		if tf.Primary != "" {
			s.Transfer = tf.Primary
		}
		if tf.Followup != "" {
			s.TransferFollowup = tf.Followup
		}
	}

	var rc workflowFile
	if readYAML(paths.Recall, &rc, entry) {
		if rc.Primary != "" {
			s.Recall = rc.Primary
		}
		if rc.Followup != "" {
			s.RecallFollowup = rc.Followup
		}
	}

	var vf vocabFile
	if readYAML(paths.Vocab, &vf, entry) {
		s.Vocab = vf.Vocab
	}
	return s
}

func readYAML(path string, out interface{}, log *logrus.Entry) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("read %s: %v", path, err)
		}
		return false
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		log.Warnf("parse %s: %v", path, err)
		return false
	}
	return true
}

// ForStation returns the primary analysis prompt for a station, falling back
// to the shared default.
func (s *Set) ForStation(code string) string {
	if p, ok := s.stationPrimary[code]; ok {
		return p
	}
	return s.defaultPrimary
}
