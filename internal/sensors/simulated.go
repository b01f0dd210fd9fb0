package sensors

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"airsense/internal/mathx"
)

// SimulatedParticulate produces a bounded random walk of PM readings,
// one frame per Poll.
type SimulatedParticulate struct {
	rng  *rand.Rand
	base float64
}

// NewSimulatedParticulate seeds the generator.
func NewSimulatedParticulate(seed int64) *SimulatedParticulate {
	return &SimulatedParticulate{rng: rand.New(rand.NewSource(seed)), base: 8}
}

func (s *SimulatedParticulate) Poll() (PMReadings, bool) {
	s.base = mathx.Clamp(s.base+s.rng.Float64()*4-2, 1, 80)
	pm1 := s.base
	pm25 := pm1 * (1.2 + s.rng.Float64()*0.3)
	pm10 := pm25 * (1.1 + s.rng.Float64()*0.4)
	return PMReadings{
		PM1_0: uint16(pm1),
		PM2_5: uint16(pm25),
		PM10:  uint16(pm10),
	}, true
}

type simulatedGasState struct {
	Samples int     `json:"samples"`
	Offset  float64 `json:"offset"`
}

// SimulatedGas reaches full accuracy after a number of samples, like the
// real calibration algorithm does after a burn-in.
type SimulatedGas struct {
	mu      sync.Mutex
	rng     *rand.Rand
	state   simulatedGasState
	burnIn  int
	reading GasSample
}

// NewSimulatedGas seeds the generator. Accuracy steps up every burnIn/3
// samples.
func NewSimulatedGas(seed int64, burnIn int) *SimulatedGas {
	if burnIn < 3 {
		burnIn = 3
	}
	return &SimulatedGas{
		rng:    rand.New(rand.NewSource(seed)),
		burnIn: burnIn,
		reading: GasSample{
			CO2e:        500,
			BVOC:        0.5,
			Temperature: 21,
			Humidity:    45,
		},
	}
}

func (s *SimulatedGas) Run() (GasSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Samples++
	step := s.burnIn / 3
	s.reading.Accuracy = uint8(mathx.Clamp(s.state.Samples/step, 0, 3))
	s.reading.CO2e = mathx.Clamp(s.reading.CO2e+s.rng.Float64()*40-20, 400, 5000)
	s.reading.BVOC = mathx.Clamp(s.reading.BVOC+s.rng.Float64()*0.2-0.1, 0, 20)
	s.reading.Temperature = mathx.Clamp(s.reading.Temperature+s.rng.Float64()*0.2-0.1, -10, 50)
	s.reading.Humidity = mathx.Clamp(s.reading.Humidity+s.rng.Float64()-0.5, 0, 100)

	out := s.reading
	out.Temperature += s.state.Offset
	return out, true
}

func (s *SimulatedGas) State() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.state)
}

func (s *SimulatedGas) SetState(blob []byte) error {
	var st simulatedGasState
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("invalid calibration blob: %w", err)
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

func (s *SimulatedGas) SetTemperatureOffset(offset float64) {
	s.mu.Lock()
	s.state.Offset = offset
	s.mu.Unlock()
}
